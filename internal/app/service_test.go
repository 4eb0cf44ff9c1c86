package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"handbook/api/internal/authpw"
	"handbook/api/internal/config"
	"handbook/api/internal/content"
	"handbook/api/internal/session"
	"handbook/api/internal/store"
)

type fakeStore struct {
	getSurgeryFn            func(context.Context, string) (store.Surgery, error)
	getUserByEmailFn        func(context.Context, string) (store.User, error)
	getUserByIDFn           func(context.Context, string) (store.User, error)
	createUserFn            func(context.Context, store.User) (store.User, error)
	getMembershipFn         func(context.Context, string, string) (store.Membership, error)
	upsertMembershipFn      func(context.Context, store.Membership) error
	listCategoriesFn        func(context.Context, string) ([]store.Category, error)
	getCategoryFn           func(context.Context, string) (store.Category, error)
	deleteCategoryFn        func(context.Context, string) error
	countChildrenFn         func(context.Context, string) (int, error)
	countItemsFn            func(context.Context, string) (int, error)
	listItemsFn             func(context.Context, string) ([]store.Item, error)
	getItemFn               func(context.Context, string) (store.Item, error)
	updateItemFn            func(context.Context, store.Item) error
	listItemGrantsFn        func(context.Context, string) ([]store.EditGrant, error)
	listSurgeryGrantsFn     func(context.Context, string) ([]store.EditGrant, error)
	listRestrictedFn        func(context.Context, string) ([]store.RestrictedEditor, error)
	listSurgeryRestrictedFn func(context.Context, string) ([]store.RestrictedEditor, error)
	insertAuditFn           func(context.Context, store.AuditEvent) error
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetDefaultSurgery(context.Context) (store.Surgery, error) {
	return store.Surgery{ID: "srg_1", Name: "Hightown Surgery", Slug: "hightown"}, nil
}
func (f *fakeStore) GetSurgery(ctx context.Context, id string) (store.Surgery, error) {
	if f.getSurgeryFn != nil {
		return f.getSurgeryFn(ctx, id)
	}
	return store.Surgery{ID: id, Name: "Hightown Surgery"}, nil
}
func (f *fakeStore) GetSurgeryBySlug(context.Context, string) (store.Surgery, error) {
	return store.Surgery{}, sql.ErrNoRows
}
func (f *fakeStore) InsertSurgery(context.Context, string, string) (store.Surgery, error) {
	return store.Surgery{}, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	user.ID = "usr_new"
	return user, nil
}
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error { return nil }

func (f *fakeStore) GetMembership(ctx context.Context, userID, surgeryID string) (store.Membership, error) {
	if f.getMembershipFn != nil {
		return f.getMembershipFn(ctx, userID, surgeryID)
	}
	return store.Membership{UserID: userID, SurgeryID: surgeryID, Role: "STANDARD"}, nil
}
func (f *fakeStore) UpsertMembership(ctx context.Context, m store.Membership) error {
	if f.upsertMembershipFn != nil {
		return f.upsertMembershipFn(ctx, m)
	}
	return nil
}
func (f *fakeStore) ListMembers(context.Context, string) ([]store.User, error) { return nil, nil }

func (f *fakeStore) ListCategories(ctx context.Context, surgeryID string) ([]store.Category, error) {
	if f.listCategoriesFn != nil {
		return f.listCategoriesFn(ctx, surgeryID)
	}
	return nil, nil
}
func (f *fakeStore) GetCategory(ctx context.Context, id string) (store.Category, error) {
	if f.getCategoryFn != nil {
		return f.getCategoryFn(ctx, id)
	}
	return store.Category{}, sql.ErrNoRows
}
func (f *fakeStore) InsertCategory(ctx context.Context, c store.Category) (store.Category, error) {
	return c, nil
}
func (f *fakeStore) UpdateCategory(context.Context, store.Category) error { return nil }
func (f *fakeStore) DeleteCategory(ctx context.Context, id string) error {
	if f.deleteCategoryFn != nil {
		return f.deleteCategoryFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) CountCategoryChildren(ctx context.Context, id string) (int, error) {
	if f.countChildrenFn != nil {
		return f.countChildrenFn(ctx, id)
	}
	return 0, nil
}
func (f *fakeStore) CountCategoryItems(ctx context.Context, id string) (int, error) {
	if f.countItemsFn != nil {
		return f.countItemsFn(ctx, id)
	}
	return 0, nil
}

func (f *fakeStore) ListItems(ctx context.Context, surgeryID string) ([]store.Item, error) {
	if f.listItemsFn != nil {
		return f.listItemsFn(ctx, surgeryID)
	}
	return nil, nil
}
func (f *fakeStore) GetItem(ctx context.Context, id string) (store.Item, error) {
	if f.getItemFn != nil {
		return f.getItemFn(ctx, id)
	}
	return store.Item{}, sql.ErrNoRows
}
func (f *fakeStore) InsertItem(ctx context.Context, item store.Item) (store.Item, error) {
	return item, nil
}
func (f *fakeStore) UpdateItem(ctx context.Context, item store.Item) error {
	if f.updateItemFn != nil {
		return f.updateItemFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) SoftDeleteItem(context.Context, string) error     { return nil }
func (f *fakeStore) SetItemPinned(context.Context, string, bool) error { return nil }

func (f *fakeStore) ListEntries(context.Context, string) ([]store.ListEntry, error) {
	return nil, nil
}
func (f *fakeStore) InsertListEntry(ctx context.Context, e store.ListEntry) (store.ListEntry, error) {
	return e, nil
}
func (f *fakeStore) DeleteListEntry(context.Context, string) error { return nil }

func (f *fakeStore) ListItemGrants(ctx context.Context, itemID string) ([]store.EditGrant, error) {
	if f.listItemGrantsFn != nil {
		return f.listItemGrantsFn(ctx, itemID)
	}
	return nil, nil
}
func (f *fakeStore) ListSurgeryGrants(ctx context.Context, surgeryID string) ([]store.EditGrant, error) {
	if f.listSurgeryGrantsFn != nil {
		return f.listSurgeryGrantsFn(ctx, surgeryID)
	}
	return nil, nil
}
func (f *fakeStore) InsertGrant(ctx context.Context, g store.EditGrant) (store.EditGrant, error) {
	return g, nil
}
func (f *fakeStore) DeleteGrant(context.Context, string) error { return nil }

func (f *fakeStore) ListRestrictedEditors(ctx context.Context, itemID string) ([]store.RestrictedEditor, error) {
	if f.listRestrictedFn != nil {
		return f.listRestrictedFn(ctx, itemID)
	}
	return nil, nil
}
func (f *fakeStore) ListSurgeryRestrictedEditors(ctx context.Context, surgeryID string) ([]store.RestrictedEditor, error) {
	if f.listSurgeryRestrictedFn != nil {
		return f.listSurgeryRestrictedFn(ctx, surgeryID)
	}
	return nil, nil
}
func (f *fakeStore) InsertRestrictedEditor(context.Context, string, string) error { return nil }
func (f *fakeStore) DeleteRestrictedEditor(context.Context, string, string) error { return nil }

func (f *fakeStore) InsertAuditEvent(ctx context.Context, event store.AuditEvent) error {
	if f.insertAuditFn != nil {
		return f.insertAuditFn(ctx, event)
	}
	return nil
}
func (f *fakeStore) ListAuditEvents(context.Context, string, int) ([]store.AuditEvent, error) {
	return nil, nil
}

type fakeSessions struct {
	mu      sync.Mutex
	records map[string]session.Record
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{records: make(map[string]session.Record)}
}

func (f *fakeSessions) Save(_ context.Context, tokenHash string, rec session.Record, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[tokenHash] = rec
	return nil
}

func (f *fakeSessions) Lookup(_ context.Context, tokenHash string) (session.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[tokenHash]
	if !ok {
		return session.Record{}, session.ErrNotFound
	}
	return rec, nil
}

func (f *fakeSessions) Revoke(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, tokenHash)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  24 * time.Hour,
		},
		store:     fs,
		sessions:  newFakeSessions(),
		passwords: authpw.NewService(fs),
	}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Status
}

func strPtr(s string) *string { return &s }

// Two categories: one open to everyone, one limited to ADMIN.
func categoryFixtures() []store.Category {
	return []store.Category{
		{ID: "cat_open", SurgeryID: "srg_1", Name: "Practice Life", VisibilityMode: "ALL"},
		{ID: "cat_admin", SurgeryID: "srg_1", Name: "Management", VisibilityMode: "ROLES", VisibilityRoles: []string{"ADMIN"}},
	}
}

func standardSession() Session {
	return Session{UserID: "usr_std", UserName: "Pat Reader", SurgeryID: "srg_1", Role: "STANDARD"}
}

func adminSession() Session {
	return Session{UserID: "usr_adm", UserName: "Alex Admin", SurgeryID: "srg_1", Role: "ADMIN"}
}

func TestHandbookFiltersHiddenCategoriesAndItems(t *testing.T) {
	fs := &fakeStore{
		listCategoriesFn: func(context.Context, string) ([]store.Category, error) {
			return categoryFixtures(), nil
		},
		listItemsFn: func(context.Context, string) ([]store.Item, error) {
			return []store.Item{
				{ID: "itm_open", SurgeryID: "srg_1", CategoryID: strPtr("cat_open"), Type: store.ItemTypePage, Title: "Open page"},
				{ID: "itm_admin", SurgeryID: "srg_1", CategoryID: strPtr("cat_admin"), Type: store.ItemTypePage, Title: "Admin page"},
				{ID: "itm_loose", SurgeryID: "srg_1", Type: store.ItemTypeList, Title: "Uncategorized list"},
			}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.Handbook(context.Background(), standardSession())
	if err != nil {
		t.Fatalf("Handbook: %v", err)
	}

	categories := payload["categories"].([]map[string]any)
	if len(categories) != 1 || categories[0]["id"] != "cat_open" {
		t.Fatalf("expected only cat_open, got %v", categories)
	}
	if _, ok := categories[0]["visibility"]; ok {
		t.Fatalf("visibility payload should be withheld from non-managers")
	}
	if payload["canManage"].(bool) {
		t.Fatalf("STANDARD member must not get canManage")
	}

	items := payload["items"].([]map[string]any)
	ids := make(map[string]bool, len(items))
	for _, item := range items {
		ids[item["id"].(string)] = true
	}
	if !ids["itm_open"] || !ids["itm_loose"] || ids["itm_admin"] {
		t.Fatalf("unexpected item filtering: %v", ids)
	}
	// items with no grants default to editable by any viewer
	for _, item := range items {
		if !item["canEdit"].(bool) {
			t.Fatalf("expected canEdit for %v", item["id"])
		}
	}
}

func TestHandbookExposesVisibilityToManagers(t *testing.T) {
	fs := &fakeStore{
		listCategoriesFn: func(context.Context, string) ([]store.Category, error) {
			return categoryFixtures(), nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.Handbook(context.Background(), adminSession())
	if err != nil {
		t.Fatalf("Handbook: %v", err)
	}
	categories := payload["categories"].([]map[string]any)
	if len(categories) != 2 {
		t.Fatalf("admin should see both categories, got %d", len(categories))
	}
	for _, c := range categories {
		if _, ok := c["visibility"]; !ok {
			t.Fatalf("manager payload missing visibility for %v", c["id"])
		}
	}
	if !payload["canManage"].(bool) {
		t.Fatalf("admin must get canManage")
	}
}

func TestGetItemHiddenCategoryReadsAsMissing(t *testing.T) {
	fs := &fakeStore{
		listCategoriesFn: func(context.Context, string) ([]store.Category, error) {
			return categoryFixtures(), nil
		},
		getItemFn: func(_ context.Context, id string) (store.Item, error) {
			return store.Item{ID: id, SurgeryID: "srg_1", CategoryID: strPtr("cat_admin"), Type: store.ItemTypePage, Title: "Admin page"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.GetItem(context.Background(), standardSession(), "itm_admin")
	if status := domainStatus(t, err); status != 404 {
		t.Fatalf("hidden item should read as 404, got %d", status)
	}
}

func TestUpdateItemWithoutEditRightsIsForbidden(t *testing.T) {
	fs := &fakeStore{
		listCategoriesFn: func(context.Context, string) ([]store.Category, error) {
			return categoryFixtures(), nil
		},
		getItemFn: func(_ context.Context, id string) (store.Item, error) {
			return store.Item{ID: id, SurgeryID: "srg_1", CategoryID: strPtr("cat_open"), Type: store.ItemTypePage, Title: "Locked page"}, nil
		},
		listItemGrantsFn: func(context.Context, string) ([]store.EditGrant, error) {
			return []store.EditGrant{{ID: "grt_1", PrincipalKind: "USER", UserID: "usr_other"}}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateItem(context.Background(), standardSession(), "itm_1", UpdateItemInput{Title: strPtr("New title")})
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("viewable but unwritable item should be 403, got %d", status)
	}
}

func TestUpdateItemDropsCategoryChangeForNonManager(t *testing.T) {
	var saved *store.Item
	fs := &fakeStore{
		listCategoriesFn: func(context.Context, string) ([]store.Category, error) {
			return categoryFixtures(), nil
		},
		getItemFn: func(_ context.Context, id string) (store.Item, error) {
			return store.Item{ID: id, SurgeryID: "srg_1", CategoryID: strPtr("cat_open"), Type: store.ItemTypePage, Title: "Old title"}, nil
		},
		listItemGrantsFn: func(context.Context, string) ([]store.EditGrant, error) {
			return []store.EditGrant{{ID: "grt_1", PrincipalKind: "USER", UserID: "usr_std"}}, nil
		},
		updateItemFn: func(_ context.Context, item store.Item) error {
			saved = &item
			return nil
		},
	}
	svc := newTestService(fs)

	input := UpdateItemInput{
		Title:    strPtr("New title"),
		Category: CategoryPatch{Present: true, Value: strPtr("cat_admin")},
	}
	if _, err := svc.UpdateItem(context.Background(), standardSession(), "itm_1", input); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if saved == nil {
		t.Fatalf("update never reached the store")
	}
	if saved.Title != "New title" {
		t.Fatalf("title change should still apply, got %q", saved.Title)
	}
	if saved.CategoryID == nil || *saved.CategoryID != "cat_open" {
		t.Fatalf("category change by a non-manager must be dropped, got %v", saved.CategoryID)
	}
}

func TestUpdateItemAppliesCategoryChangeForManager(t *testing.T) {
	var saved *store.Item
	fs := &fakeStore{
		listCategoriesFn: func(context.Context, string) ([]store.Category, error) {
			return categoryFixtures(), nil
		},
		getItemFn: func(_ context.Context, id string) (store.Item, error) {
			return store.Item{ID: id, SurgeryID: "srg_1", CategoryID: strPtr("cat_open"), Type: store.ItemTypePage, Title: "Old title"}, nil
		},
		getCategoryFn: func(_ context.Context, id string) (store.Category, error) {
			if id != "cat_admin" {
				return store.Category{}, sql.ErrNoRows
			}
			return store.Category{ID: "cat_admin", SurgeryID: "srg_1"}, nil
		},
		updateItemFn: func(_ context.Context, item store.Item) error {
			saved = &item
			return nil
		},
	}
	svc := newTestService(fs)

	input := UpdateItemInput{Category: CategoryPatch{Present: true, Value: strPtr("cat_admin")}}
	if _, err := svc.UpdateItem(context.Background(), adminSession(), "itm_1", input); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if saved == nil || saved.CategoryID == nil || *saved.CategoryID != "cat_admin" {
		t.Fatalf("manager's category change should apply, got %+v", saved)
	}
}

func TestUpdateItemClearsCategoryWithExplicitNull(t *testing.T) {
	var saved *store.Item
	fs := &fakeStore{
		listCategoriesFn: func(context.Context, string) ([]store.Category, error) {
			return categoryFixtures(), nil
		},
		getItemFn: func(_ context.Context, id string) (store.Item, error) {
			return store.Item{ID: id, SurgeryID: "srg_1", CategoryID: strPtr("cat_open"), Type: store.ItemTypePage, Title: "Old title"}, nil
		},
		updateItemFn: func(_ context.Context, item store.Item) error {
			saved = &item
			return nil
		},
	}
	svc := newTestService(fs)

	input := UpdateItemInput{Category: CategoryPatch{Present: true}}
	if _, err := svc.UpdateItem(context.Background(), adminSession(), "itm_1", input); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if saved == nil || saved.CategoryID != nil {
		t.Fatalf("explicit null should move the item to uncategorized, got %+v", saved)
	}
}

func TestUpdateItemInputUnmarshalTristate(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		wantPresent bool
		wantValue   *string
		wantTitle   *string
	}{
		{name: "absent", body: `{"title":"New"}`, wantPresent: false, wantTitle: strPtr("New")},
		{name: "null clears", body: `{"categoryId":null}`, wantPresent: true},
		{name: "value", body: `{"categoryId":"cat_42"}`, wantPresent: true, wantValue: strPtr("cat_42")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var input UpdateItemInput
			if err := json.Unmarshal([]byte(tc.body), &input); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if input.Category.Present != tc.wantPresent {
				t.Fatalf("Present = %v, want %v", input.Category.Present, tc.wantPresent)
			}
			if (input.Category.Value == nil) != (tc.wantValue == nil) {
				t.Fatalf("Value = %v, want %v", input.Category.Value, tc.wantValue)
			}
			if tc.wantValue != nil && *input.Category.Value != *tc.wantValue {
				t.Fatalf("Value = %q, want %q", *input.Category.Value, *tc.wantValue)
			}
			if (input.Title == nil) != (tc.wantTitle == nil) {
				t.Fatalf("Title = %v, want %v", input.Title, tc.wantTitle)
			}
		})
	}
}

func TestCreateItemOpenToStandardMembers(t *testing.T) {
	fs := &fakeStore{
		listCategoriesFn: func(context.Context, string) ([]store.Category, error) {
			return categoryFixtures(), nil
		},
		getCategoryFn: func(_ context.Context, id string) (store.Category, error) {
			for _, c := range categoryFixtures() {
				if c.ID == id {
					return c, nil
				}
			}
			return store.Category{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateItem(context.Background(), standardSession(), ItemInput{
		Title:      "New page",
		Type:       store.ItemTypePage,
		CategoryID: strPtr("cat_open"),
	})
	if err != nil {
		t.Fatalf("STANDARD member should be able to create items: %v", err)
	}
	if payload["title"] != "New page" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	// a category the caller cannot see reads the same as a missing one
	_, err = svc.CreateItem(context.Background(), standardSession(), ItemInput{
		Title:      "Sneaky page",
		Type:       store.ItemTypePage,
		CategoryID: strPtr("cat_admin"),
	})
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("hidden target category should be 422, got %d", status)
	}
}

func TestDeleteItemOpenToStandardMembers(t *testing.T) {
	fs := &fakeStore{
		listCategoriesFn: func(context.Context, string) ([]store.Category, error) {
			return categoryFixtures(), nil
		},
		getItemFn: func(_ context.Context, id string) (store.Item, error) {
			return store.Item{ID: id, SurgeryID: "srg_1", CategoryID: strPtr("cat_open"), Type: store.ItemTypePage, Title: "Old page"}, nil
		},
	}
	svc := newTestService(fs)

	if err := svc.DeleteItem(context.Background(), standardSession(), "itm_1"); err != nil {
		t.Fatalf("STANDARD member should be able to soft-delete: %v", err)
	}

	fs.getItemFn = func(_ context.Context, id string) (store.Item, error) {
		return store.Item{ID: id, SurgeryID: "srg_1", CategoryID: strPtr("cat_admin"), Type: store.ItemTypePage, Title: "Hidden page"}, nil
	}
	err := svc.DeleteItem(context.Background(), standardSession(), "itm_2")
	if status := domainStatus(t, err); status != 404 {
		t.Fatalf("hidden item should delete as 404, got %d", status)
	}
}

func TestDeleteCategoryRefusesWhenNotEmpty(t *testing.T) {
	fs := &fakeStore{
		getCategoryFn: func(_ context.Context, id string) (store.Category, error) {
			return store.Category{ID: id, SurgeryID: "srg_1", Name: "Clinical"}, nil
		},
		countChildrenFn: func(context.Context, string) (int, error) { return 2, nil },
	}
	svc := newTestService(fs)

	err := svc.DeleteCategory(context.Background(), adminSession(), "cat_1")
	if status := domainStatus(t, err); status != 409 {
		t.Fatalf("category with subcategories should be 409, got %d", status)
	}

	fs.countChildrenFn = func(context.Context, string) (int, error) { return 0, nil }
	fs.countItemsFn = func(context.Context, string) (int, error) { return 1, nil }
	err = svc.DeleteCategory(context.Background(), adminSession(), "cat_1")
	if status := domainStatus(t, err); status != 409 {
		t.Fatalf("category with items should be 409, got %d", status)
	}
}

func TestCreateCategoryRejectsNestedParent(t *testing.T) {
	fs := &fakeStore{
		getCategoryFn: func(_ context.Context, id string) (store.Category, error) {
			return store.Category{ID: id, SurgeryID: "srg_1", ParentID: strPtr("cat_top")}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateCategory(context.Background(), adminSession(), CategoryInput{
		Name:     "Too deep",
		ParentID: strPtr("cat_child"),
	})
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("nesting under a subcategory should be 422, got %d", status)
	}
}

func TestCategoryEndpointsRequireManage(t *testing.T) {
	svc := newTestService(&fakeStore{})
	sess := standardSession()
	ctx := context.Background()

	if _, err := svc.CreateCategory(ctx, sess, CategoryInput{Name: "X"}); domainStatus(t, err) != 403 {
		t.Fatalf("CreateCategory should be manage-gated")
	}
	if err := svc.DeleteCategory(ctx, sess, "cat_1"); domainStatus(t, err) != 403 {
		t.Fatalf("DeleteCategory should be manage-gated")
	}
	if _, err := svc.ProvisionMember(ctx, sess, MemberInput{Email: "a@b.c"}); domainStatus(t, err) != 403 {
		t.Fatalf("ProvisionMember should be manage-gated")
	}
	if _, err := svc.AuditLog(ctx, sess, 10); domainStatus(t, err) != 403 {
		t.Fatalf("AuditLog should be manage-gated")
	}
}

func TestElevatedStandardMemberCanManage(t *testing.T) {
	fs := &fakeStore{
		getCategoryFn: func(_ context.Context, id string) (store.Category, error) {
			return store.Category{ID: id, SurgeryID: "srg_1", Name: "Old"}, nil
		},
	}
	svc := newTestService(fs)

	sess := standardSession()
	sess.IsElevated = true
	if err := svc.DeleteCategory(context.Background(), sess, "cat_1"); err != nil {
		t.Fatalf("elevated STANDARD member should manage categories: %v", err)
	}
}

func TestSignInRoundTrip(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)

	created, err := svc.passwords.Provision(context.Background(), "Pat Reader", "pat@example.org", "correct horse", false)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	fs.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		if email == created.Email {
			return created, nil
		}
		return store.User{}, sql.ErrNoRows
	}
	fs.getUserByIDFn = func(context.Context, string) (store.User, error) {
		return created, nil
	}

	sess, err := svc.SignIn(context.Background(), "pat@example.org", "correct horse", "")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.Token == "" || sess.RefreshToken == "" {
		t.Fatalf("session missing tokens: %+v", sess)
	}
	if sess.Role != "STANDARD" {
		t.Fatalf("expected STANDARD membership, got %q", sess.Role)
	}

	if _, err := svc.SignIn(context.Background(), "pat@example.org", "wrong", ""); !errors.Is(err, authpw.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	refreshed, err := svc.Refresh(context.Background(), sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.UserID != created.ID {
		t.Fatalf("refresh lost the user: %+v", refreshed)
	}
	// refresh tokens are single use
	if _, err := svc.Refresh(context.Background(), sess.RefreshToken); err == nil {
		t.Fatalf("reused refresh token should fail")
	}
}

func TestSessionFromTokenRejectsDeactivatedUser(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)

	created, err := svc.passwords.Provision(context.Background(), "Pat Reader", "pat@example.org", "correct horse", false)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	fs.getUserByEmailFn = func(context.Context, string) (store.User, error) { return created, nil }
	fs.getUserByIDFn = func(context.Context, string) (store.User, error) { return created, nil }

	sess, err := svc.SignIn(context.Background(), created.Email, "correct horse", "")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	if _, err := svc.SessionFromToken(context.Background(), sess.Token); err != nil {
		t.Fatalf("live token should resolve: %v", err)
	}

	when := time.Now()
	created.DeactivatedAt = &when
	fs.getUserByIDFn = func(context.Context, string) (store.User, error) { return created, nil }

	if _, err := svc.SessionFromToken(context.Background(), sess.Token); err == nil {
		t.Fatalf("deactivated user's token should stop working")
	}
}

func TestDocumentTextFlattensBlocksForIndexing(t *testing.T) {
	raw := json.RawMessage(`{"blocks":[
		{"kind":"INTRO_TEXT","html":"<p>Opening hours &amp; contacts</p>"},
		{"kind":"ROLE_CARDS","id":"blk_1","layout":"grid","columns":3,"cards":[{"id":"c1","title":"Reception","body":"<p>Front desk duties</p>","orderIndex":0}]},
		{"kind":"FOOTER_TEXT","html":"<p>Reviewed yearly</p>"}
	]}`)
	doc := decodeForTest(t, raw)

	text := documentText(doc, "legacy footer that must not appear")
	for _, want := range []string{"Opening hours & contacts", "Reception", "Front desk duties", "Reviewed yearly"} {
		if !strings.Contains(text, want) {
			t.Fatalf("index text missing %q: %q", want, text)
		}
	}
	if strings.Contains(text, "legacy footer that must not appear") {
		t.Fatalf("legacy footer should be ignored when a FOOTER_TEXT block exists: %q", text)
	}

	noFooter := decodeForTest(t, json.RawMessage(`{"blocks":[{"kind":"INTRO_TEXT","html":"<p>Hello</p>"}]}`))
	text = documentText(noFooter, "ring the duty manager")
	if !strings.Contains(text, "ring the duty manager") {
		t.Fatalf("legacy footer should index when no FOOTER_TEXT block exists: %q", text)
	}
}

func TestStripTags(t *testing.T) {
	cases := []struct{ in, want string }{
		{"<p>Hello <strong>world</strong></p>", "Hello world"},
		{"plain text", "plain text"},
		{"<ul><li>one</li><li>two</li></ul>", "one two"},
		{"a &amp; b", "a & b"},
	}
	for _, tc := range cases {
		if got := stripTags(tc.in); got != tc.want {
			t.Fatalf("stripTags(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func decodeForTest(t *testing.T, raw json.RawMessage) *content.Document {
	t.Helper()
	doc := content.Decode(raw)
	if doc == nil {
		t.Fatalf("document failed to decode")
	}
	return doc
}
