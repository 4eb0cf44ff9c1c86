package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"

	"handbook/api/internal/access"
	"handbook/api/internal/content"
	"handbook/api/internal/export"
	"handbook/api/internal/history"
	"handbook/api/internal/search"
	"handbook/api/internal/store"
	"handbook/api/internal/util"
)

var allowedVisibilityModes = map[string]struct{}{
	string(access.VisibilityAll):          {},
	string(access.VisibilityRoles):        {},
	string(access.VisibilityUsers):        {},
	string(access.VisibilityRolesOrUsers): {},
}

func toAccessCategory(c store.Category) access.Category {
	roles := make([]access.Role, 0, len(c.VisibilityRoles))
	for _, role := range c.VisibilityRoles {
		roles = append(roles, access.Role(role))
	}
	return access.Category{
		ID:        c.ID,
		Name:      c.Name,
		ParentID:  c.ParentID,
		SortOrder: c.SortOrder,
		Visibility: access.Visibility{
			Mode:    access.VisibilityMode(c.VisibilityMode),
			Roles:   roles,
			UserIDs: c.VisibilityUserIDs,
		},
	}
}

func toAccessItem(item store.Item, grants []store.EditGrant, restricted []store.RestrictedEditor) access.Item {
	out := access.Item{ID: item.ID, CategoryID: item.CategoryID}
	for _, g := range grants {
		out.Grants = append(out.Grants, access.Grant{
			Kind:   access.PrincipalKind(g.PrincipalKind),
			UserID: g.UserID,
			Role:   access.Role(g.Role),
		})
	}
	for _, r := range restricted {
		out.RestrictedEditorIDs = append(out.RestrictedEditorIDs, r.UserID)
	}
	return out
}

// viewableCategories loads the surgery's category tree and resolves which
// nodes the session may see.
func (s *Service) viewableCategories(ctx context.Context, sess Session) ([]store.Category, map[string]struct{}, error) {
	categories, err := s.store.ListCategories(ctx, sess.SurgeryID)
	if err != nil {
		return nil, nil, err
	}
	accessCategories := make([]access.Category, 0, len(categories))
	for _, c := range categories {
		accessCategories = append(accessCategories, toAccessCategory(c))
	}
	return categories, access.ViewableCategoryIDs(sess.principal(), accessCategories), nil
}

// Handbook returns the whole handbook as one payload, already filtered to
// what the session may see, with a canEdit flag per item.
func (s *Service) Handbook(ctx context.Context, sess Session) (map[string]any, error) {
	categories, viewable, err := s.viewableCategories(ctx, sess)
	if err != nil {
		return nil, err
	}

	items, err := s.store.ListItems(ctx, sess.SurgeryID)
	if err != nil {
		return nil, err
	}
	grants, err := s.store.ListSurgeryGrants(ctx, sess.SurgeryID)
	if err != nil {
		return nil, err
	}
	restricted, err := s.store.ListSurgeryRestrictedEditors(ctx, sess.SurgeryID)
	if err != nil {
		return nil, err
	}

	grantsByItem := make(map[string][]store.EditGrant)
	for _, g := range grants {
		grantsByItem[g.ItemID] = append(grantsByItem[g.ItemID], g)
	}
	restrictedByItem := make(map[string][]store.RestrictedEditor)
	for _, r := range restricted {
		restrictedByItem[r.ItemID] = append(restrictedByItem[r.ItemID], r)
	}

	principal := sess.principal()
	manage := access.CanManage(principal)

	categoryPayloads := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		if _, ok := viewable[c.ID]; !ok {
			continue
		}
		payload := map[string]any{
			"id":        c.ID,
			"name":      c.Name,
			"parentId":  c.ParentID,
			"sortOrder": c.SortOrder,
		}
		if manage {
			payload["visibility"] = visibilityPayload(c)
		}
		categoryPayloads = append(categoryPayloads, payload)
	}

	itemPayloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		resolved := toAccessItem(item, grantsByItem[item.ID], restrictedByItem[item.ID])
		if !access.CanViewItem(principal, resolved, viewable) {
			continue
		}
		itemPayloads = append(itemPayloads, map[string]any{
			"id":         item.ID,
			"title":      item.Title,
			"type":       item.Type,
			"categoryId": item.CategoryID,
			"isPinned":   item.IsPinned,
			"canEdit":    access.CanEditItem(principal, resolved, viewable),
			"updatedAt":  item.UpdatedAt,
		})
	}

	return map[string]any{
		"categories": categoryPayloads,
		"items":      itemPayloads,
		"canManage":  manage,
	}, nil
}

func visibilityPayload(c store.Category) map[string]any {
	return map[string]any{
		"mode":    c.VisibilityMode,
		"roles":   c.VisibilityRoles,
		"userIds": c.VisibilityUserIDs,
	}
}

// Categories

type VisibilityInput struct {
	Mode    string   `json:"mode"`
	Roles   []string `json:"roles"`
	UserIDs []string `json:"userIds"`
}

type CategoryInput struct {
	Name       string           `json:"name"`
	ParentID   *string          `json:"parentId"`
	SortOrder  int              `json:"sortOrder"`
	Visibility *VisibilityInput `json:"visibility"`
}

func (s *Service) validateCategoryInput(ctx context.Context, sess Session, input CategoryInput, selfID string) (store.Category, error) {
	if strings.TrimSpace(input.Name) == "" {
		return store.Category{}, errValidation("name is required")
	}

	c := store.Category{
		SurgeryID:      sess.SurgeryID,
		Name:           strings.TrimSpace(input.Name),
		ParentID:       input.ParentID,
		SortOrder:      input.SortOrder,
		VisibilityMode: string(access.VisibilityAll),
	}

	if input.ParentID != nil {
		if selfID != "" && *input.ParentID == selfID {
			return store.Category{}, errValidation("category cannot be its own parent")
		}
		parent, err := s.store.GetCategory(ctx, *input.ParentID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Category{}, errValidation("parent category does not exist")
		}
		if err != nil {
			return store.Category{}, err
		}
		if parent.SurgeryID != sess.SurgeryID {
			return store.Category{}, errValidation("parent category does not exist")
		}
		// the hierarchy is two levels deep, top-level parents only
		if parent.ParentID != nil {
			return store.Category{}, errValidation("parent must be a top-level category")
		}
	}

	if input.Visibility != nil {
		if _, ok := allowedVisibilityModes[input.Visibility.Mode]; !ok {
			return store.Category{}, errValidation("unknown visibility mode")
		}
		c.VisibilityMode = input.Visibility.Mode
		for _, role := range input.Visibility.Roles {
			c.VisibilityRoles = append(c.VisibilityRoles, string(access.Normalize(role)))
		}
		c.VisibilityUserIDs = input.Visibility.UserIDs
	}

	return c, nil
}

func (s *Service) CreateCategory(ctx context.Context, sess Session, input CategoryInput) (store.Category, error) {
	if !access.CanManage(sess.principal()) {
		return store.Category{}, errForbidden()
	}
	c, err := s.validateCategoryInput(ctx, sess, input, "")
	if err != nil {
		return store.Category{}, err
	}
	c.ID = util.NewID("cat")

	created, err := s.store.InsertCategory(ctx, c)
	if err != nil {
		return store.Category{}, err
	}
	s.audit(ctx, sess, "category.created", nil, &created.ID, map[string]any{"name": created.Name})
	return created, nil
}

func (s *Service) UpdateCategory(ctx context.Context, sess Session, categoryID string, input CategoryInput) (store.Category, error) {
	if !access.CanManage(sess.principal()) {
		return store.Category{}, errForbidden()
	}
	existing, err := s.store.GetCategory(ctx, categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Category{}, errNotFound()
	}
	if err != nil {
		return store.Category{}, err
	}
	if existing.SurgeryID != sess.SurgeryID {
		return store.Category{}, errNotFound()
	}

	c, err := s.validateCategoryInput(ctx, sess, input, categoryID)
	if err != nil {
		return store.Category{}, err
	}
	if input.ParentID != nil {
		children, err := s.store.CountCategoryChildren(ctx, categoryID)
		if err != nil {
			return store.Category{}, err
		}
		if children > 0 {
			return store.Category{}, errValidation("category with subcategories must stay top-level")
		}
	}
	c.ID = categoryID

	if err := s.store.UpdateCategory(ctx, c); err != nil {
		return store.Category{}, err
	}
	s.audit(ctx, sess, "category.updated", nil, &categoryID, map[string]any{"name": c.Name})
	return c, nil
}

// DeleteCategory refuses to delete a category that still has subcategories
// or items; callers must move or delete those first.
func (s *Service) DeleteCategory(ctx context.Context, sess Session, categoryID string) error {
	if !access.CanManage(sess.principal()) {
		return errForbidden()
	}
	existing, err := s.store.GetCategory(ctx, categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound()
	}
	if err != nil {
		return err
	}
	if existing.SurgeryID != sess.SurgeryID {
		return errNotFound()
	}

	children, err := s.store.CountCategoryChildren(ctx, categoryID)
	if err != nil {
		return err
	}
	if children > 0 {
		return errConflict("category still has subcategories")
	}
	count, err := s.store.CountCategoryItems(ctx, categoryID)
	if err != nil {
		return err
	}
	if count > 0 {
		return errConflict("category still has items")
	}

	if err := s.store.DeleteCategory(ctx, categoryID); err != nil {
		return err
	}
	s.audit(ctx, sess, "category.deleted", nil, &categoryID, map[string]any{"name": existing.Name})
	return nil
}

func (s *Service) ListCategories(ctx context.Context, sess Session) ([]map[string]any, error) {
	if !access.CanManage(sess.principal()) {
		return nil, errForbidden()
	}
	categories, err := s.store.ListCategories(ctx, sess.SurgeryID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		payloads = append(payloads, map[string]any{
			"id":         c.ID,
			"name":       c.Name,
			"parentId":   c.ParentID,
			"sortOrder":  c.SortOrder,
			"visibility": visibilityPayload(c),
		})
	}
	return payloads, nil
}

// Items

type ItemInput struct {
	Title      string          `json:"title"`
	Type       string          `json:"type"`
	CategoryID *string         `json:"categoryId"`
	Content    *content.Update `json:"content"`
}

// CategoryPatch distinguishes "categoryId absent" from "categoryId: null"
// (move to uncategorized) from a concrete target.
type CategoryPatch struct {
	Present bool
	Value   *string
}

type UpdateItemInput struct {
	Title    *string
	Category CategoryPatch
	Content  *content.Update
}

func (u *UpdateItemInput) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["title"]; ok && string(raw) != "null" {
		var title string
		if err := json.Unmarshal(raw, &title); err != nil {
			return fmt.Errorf("title: %w", err)
		}
		u.Title = &title
	}
	if raw, ok := fields["categoryId"]; ok {
		u.Category.Present = true
		if string(raw) != "null" {
			var id string
			if err := json.Unmarshal(raw, &id); err != nil {
				return fmt.Errorf("categoryId: %w", err)
			}
			u.Category.Value = &id
		}
	}
	if raw, ok := fields["content"]; ok && string(raw) != "null" {
		var update content.Update
		if err := json.Unmarshal(raw, &update); err != nil {
			return fmt.Errorf("content: %w", err)
		}
		u.Content = &update
	}
	return nil
}

// CreateItem is open to every member of the surgery; only the category
// placement is restricted to what the caller can see.
func (s *Service) CreateItem(ctx context.Context, sess Session, input ItemInput) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, errValidation("title is required")
	}
	if input.Type != store.ItemTypePage && input.Type != store.ItemTypeList {
		return nil, errValidation("type must be PAGE or LIST")
	}
	if input.CategoryID != nil {
		category, err := s.store.GetCategory(ctx, *input.CategoryID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errValidation("category does not exist")
		}
		if err != nil {
			return nil, err
		}
		if category.SurgeryID != sess.SurgeryID {
			return nil, errValidation("category does not exist")
		}
		if !access.CanManage(sess.principal()) {
			_, viewable, err := s.viewableCategories(ctx, sess)
			if err != nil {
				return nil, err
			}
			// a hidden category reads the same as a missing one
			if _, ok := viewable[category.ID]; !ok {
				return nil, errValidation("category does not exist")
			}
		}
	}

	item := store.Item{
		ID:         util.NewID("itm"),
		SurgeryID:  sess.SurgeryID,
		CategoryID: input.CategoryID,
		Type:       input.Type,
		Title:      strings.TrimSpace(input.Title),
		CreatedBy:  sess.UserID,
	}

	var doc *content.Document
	if input.Content != nil {
		doc = content.Merge(nil, *input.Content)
		raw, err := content.Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("encode content: %w", err)
		}
		item.Content = raw
	}

	created, err := s.store.InsertItem(ctx, item)
	if err != nil {
		return nil, err
	}

	s.recordRevision(created, sess.UserName, "create "+strings.ToLower(created.Type))
	s.indexItem(created, doc)
	s.audit(ctx, sess, "item.created", &created.ID, created.CategoryID, map[string]any{"title": created.Title, "type": created.Type})

	return s.itemPayload(ctx, sess, created, true)
}

// loadItemForAccess fetches an item plus everything the edit resolver needs.
func (s *Service) loadItemForAccess(ctx context.Context, sess Session, itemID string) (store.Item, access.Item, map[string]struct{}, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Item{}, access.Item{}, nil, errNotFound()
	}
	if err != nil {
		return store.Item{}, access.Item{}, nil, err
	}
	if item.SurgeryID != sess.SurgeryID || item.DeletedAt != nil {
		return store.Item{}, access.Item{}, nil, errNotFound()
	}

	grants, err := s.store.ListItemGrants(ctx, itemID)
	if err != nil {
		return store.Item{}, access.Item{}, nil, err
	}
	restricted, err := s.store.ListRestrictedEditors(ctx, itemID)
	if err != nil {
		return store.Item{}, access.Item{}, nil, err
	}
	_, viewable, err := s.viewableCategories(ctx, sess)
	if err != nil {
		return store.Item{}, access.Item{}, nil, err
	}
	return item, toAccessItem(item, grants, restricted), viewable, nil
}

func (s *Service) GetItem(ctx context.Context, sess Session, itemID string) (map[string]any, error) {
	item, resolved, viewable, err := s.loadItemForAccess(ctx, sess, itemID)
	if err != nil {
		return nil, err
	}
	principal := sess.principal()
	if !access.CanViewItem(principal, resolved, viewable) {
		// hidden items are indistinguishable from missing ones
		return nil, errNotFound()
	}
	return s.itemPayload(ctx, sess, item, access.CanEditItem(principal, resolved, viewable))
}

func (s *Service) itemPayload(ctx context.Context, sess Session, item store.Item, canEdit bool) (map[string]any, error) {
	doc := content.Decode(item.Content)
	raw, err := content.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}

	payload := map[string]any{
		"id":         item.ID,
		"title":      item.Title,
		"type":       item.Type,
		"categoryId": item.CategoryID,
		"isPinned":   item.IsPinned,
		"canEdit":    canEdit,
		"content":    raw,
		"footerHtml": content.FooterHTML(doc, item.LegacyFooterText),
		"createdAt":  item.CreatedAt,
		"updatedAt":  item.UpdatedAt,
	}

	if item.Type == store.ItemTypeList {
		entries, err := s.store.ListEntries(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		entryPayloads := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			entryPayloads = append(entryPayloads, map[string]any{
				"id":        e.ID,
				"title":     e.Title,
				"url":       e.URL,
				"phone":     e.Phone,
				"sortOrder": e.SortOrder,
			})
		}
		payload["entries"] = entryPayloads
	}

	if access.CanManage(sess.principal()) {
		grants, err := s.store.ListItemGrants(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		payload["grants"] = grantPayloads(grants)
		restricted, err := s.store.ListRestrictedEditors(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		payload["restrictedEditors"] = restrictedPayloads(restricted)
	}

	return payload, nil
}

// UpdateItem applies a partial update. Content fields merge into the stored
// block document; a category change from a caller without manage rights is
// dropped silently while the rest of the update still applies.
func (s *Service) UpdateItem(ctx context.Context, sess Session, itemID string, input UpdateItemInput) (map[string]any, error) {
	item, resolved, viewable, err := s.loadItemForAccess(ctx, sess, itemID)
	if err != nil {
		return nil, err
	}
	principal := sess.principal()
	if !access.CanViewItem(principal, resolved, viewable) {
		return nil, errNotFound()
	}
	if !access.CanEditItem(principal, resolved, viewable) {
		return nil, errForbidden()
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, errValidation("title cannot be empty")
		}
		item.Title = title
	}

	if input.Category.Present && access.CanManage(principal) {
		if input.Category.Value == nil {
			item.CategoryID = nil
		} else {
			category, err := s.store.GetCategory(ctx, *input.Category.Value)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errValidation("category does not exist")
			}
			if err != nil {
				return nil, err
			}
			if category.SurgeryID != sess.SurgeryID {
				return nil, errValidation("category does not exist")
			}
			item.CategoryID = &category.ID
		}
	}

	var doc *content.Document
	if input.Content != nil {
		doc = content.Merge(content.Decode(item.Content), *input.Content)
		raw, err := content.Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("encode content: %w", err)
		}
		item.Content = raw
	} else {
		doc = content.Decode(item.Content)
	}

	if err := s.store.UpdateItem(ctx, item); err != nil {
		return nil, err
	}

	s.recordRevision(item, sess.UserName, "update "+strings.ToLower(item.Type))
	s.indexItem(item, doc)
	s.audit(ctx, sess, "item.updated", &item.ID, item.CategoryID, map[string]any{"title": item.Title})

	return s.itemPayload(ctx, sess, item, true)
}

// DeleteItem soft-deletes. Like create it is open to every member, but
// an item the caller cannot see reads as missing.
func (s *Service) DeleteItem(ctx context.Context, sess Session, itemID string) error {
	item, resolved, viewable, err := s.loadItemForAccess(ctx, sess, itemID)
	if err != nil {
		return err
	}
	if !access.CanViewItem(sess.principal(), resolved, viewable) {
		return errNotFound()
	}

	if err := s.store.SoftDeleteItem(ctx, itemID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteItem(itemID)
	}
	s.audit(ctx, sess, "item.deleted", &itemID, item.CategoryID, map[string]any{"title": item.Title})
	return nil
}

func (s *Service) PinItem(ctx context.Context, sess Session, itemID string, pinned bool) error {
	if !access.CanManage(sess.principal()) {
		return errForbidden()
	}
	item, err := s.store.GetItem(ctx, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound()
	}
	if err != nil {
		return err
	}
	if item.SurgeryID != sess.SurgeryID || item.DeletedAt != nil {
		return errNotFound()
	}
	if err := s.store.SetItemPinned(ctx, itemID, pinned); err != nil {
		return err
	}
	s.audit(ctx, sess, "item.pinned", &itemID, item.CategoryID, map[string]any{"pinned": pinned})
	return nil
}

// List entries

type ListEntryInput struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Phone     string `json:"phone"`
	SortOrder int    `json:"sortOrder"`
}

func (s *Service) AddListEntry(ctx context.Context, sess Session, itemID string, input ListEntryInput) (store.ListEntry, error) {
	item, resolved, viewable, err := s.loadItemForAccess(ctx, sess, itemID)
	if err != nil {
		return store.ListEntry{}, err
	}
	principal := sess.principal()
	if !access.CanViewItem(principal, resolved, viewable) {
		return store.ListEntry{}, errNotFound()
	}
	if !access.CanEditItem(principal, resolved, viewable) {
		return store.ListEntry{}, errForbidden()
	}
	if item.Type != store.ItemTypeList {
		return store.ListEntry{}, errValidation("entries belong to LIST items")
	}
	if strings.TrimSpace(input.Title) == "" {
		return store.ListEntry{}, errValidation("title is required")
	}

	entry, err := s.store.InsertListEntry(ctx, store.ListEntry{
		ID:        util.NewID("lst"),
		ItemID:    itemID,
		Title:     strings.TrimSpace(input.Title),
		URL:       input.URL,
		Phone:     input.Phone,
		SortOrder: input.SortOrder,
	})
	if err != nil {
		return store.ListEntry{}, err
	}
	s.audit(ctx, sess, "entry.added", &itemID, nil, map[string]any{"title": entry.Title})
	return entry, nil
}

func (s *Service) DeleteListEntry(ctx context.Context, sess Session, itemID, entryID string) error {
	_, resolved, viewable, err := s.loadItemForAccess(ctx, sess, itemID)
	if err != nil {
		return err
	}
	principal := sess.principal()
	if !access.CanViewItem(principal, resolved, viewable) {
		return errNotFound()
	}
	if !access.CanEditItem(principal, resolved, viewable) {
		return errForbidden()
	}

	entries, err := s.store.ListEntries(ctx, itemID)
	if err != nil {
		return err
	}
	found := false
	for _, e := range entries {
		if e.ID == entryID {
			found = true
			break
		}
	}
	if !found {
		return errNotFound()
	}

	if err := s.store.DeleteListEntry(ctx, entryID); err != nil {
		return err
	}
	s.audit(ctx, sess, "entry.removed", &itemID, nil, map[string]any{"entryId": entryID})
	return nil
}

// Edit grants and the legacy restricted editor list

type GrantInput struct {
	Kind   string `json:"kind"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func grantPayloads(grants []store.EditGrant) []map[string]any {
	payloads := make([]map[string]any, 0, len(grants))
	for _, g := range grants {
		payloads = append(payloads, map[string]any{
			"id":        g.ID,
			"kind":      g.PrincipalKind,
			"userId":    g.UserID,
			"userName":  g.UserName,
			"userEmail": g.UserEmail,
			"role":      g.Role,
			"grantedBy": g.GrantedBy,
			"grantedAt": g.GrantedAt,
		})
	}
	return payloads
}

func restrictedPayloads(editors []store.RestrictedEditor) []map[string]any {
	payloads := make([]map[string]any, 0, len(editors))
	for _, r := range editors {
		payloads = append(payloads, map[string]any{
			"userId":    r.UserID,
			"userName":  r.UserName,
			"userEmail": r.UserEmail,
		})
	}
	return payloads
}

func (s *Service) ListGrants(ctx context.Context, sess Session, itemID string) ([]map[string]any, error) {
	if !access.CanManage(sess.principal()) {
		return nil, errForbidden()
	}
	if _, _, _, err := s.loadItemForAccess(ctx, sess, itemID); err != nil {
		return nil, err
	}
	grants, err := s.store.ListItemGrants(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return grantPayloads(grants), nil
}

func (s *Service) AddGrant(ctx context.Context, sess Session, itemID string, input GrantInput) (map[string]any, error) {
	if !access.CanManage(sess.principal()) {
		return nil, errForbidden()
	}
	item, _, _, err := s.loadItemForAccess(ctx, sess, itemID)
	if err != nil {
		return nil, err
	}

	grant := store.EditGrant{
		ID:            util.NewID("grt"),
		SurgeryID:     sess.SurgeryID,
		ItemID:        itemID,
		PrincipalKind: input.Kind,
		GrantedBy:     sess.UserID,
	}

	var grantee store.User
	switch access.PrincipalKind(input.Kind) {
	case access.PrincipalUser:
		if strings.TrimSpace(input.UserID) == "" {
			return nil, errValidation("userId is required for USER grants")
		}
		grantee, err = s.store.GetUserByID(ctx, input.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errValidation("user does not exist")
		}
		if err != nil {
			return nil, err
		}
		grant.UserID = grantee.ID
	case access.PrincipalRole:
		grant.Role = string(access.Normalize(input.Role))
	default:
		return nil, errValidation("kind must be USER or ROLE")
	}

	created, err := s.store.InsertGrant(ctx, grant)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, sess, "grant.added", &itemID, nil, map[string]any{"kind": created.PrincipalKind, "userId": created.UserID, "role": created.Role})

	if grantee.ID != "" && s.email != nil && s.email.IsConfigured() {
		go func() {
			pageURL := fmt.Sprintf("%s/handbook/%s", strings.TrimRight(s.cfg.CORSOrigin, "/"), itemID)
			if err := s.email.SendEditAccessEmail(grantee.Email, grantee.DisplayName, item.Title, pageURL, sess.UserName); err != nil {
				log.Printf("app: edit access email: %v", err)
			}
		}()
	}

	return map[string]any{
		"id":     created.ID,
		"kind":   created.PrincipalKind,
		"userId": created.UserID,
		"role":   created.Role,
	}, nil
}

func (s *Service) RemoveGrant(ctx context.Context, sess Session, itemID, grantID string) error {
	if !access.CanManage(sess.principal()) {
		return errForbidden()
	}
	if _, _, _, err := s.loadItemForAccess(ctx, sess, itemID); err != nil {
		return err
	}
	grants, err := s.store.ListItemGrants(ctx, itemID)
	if err != nil {
		return err
	}
	found := false
	for _, g := range grants {
		if g.ID == grantID {
			found = true
			break
		}
	}
	if !found {
		return errNotFound()
	}
	if err := s.store.DeleteGrant(ctx, grantID); err != nil {
		return err
	}
	s.audit(ctx, sess, "grant.removed", &itemID, nil, map[string]any{"grantId": grantID})
	return nil
}

func (s *Service) ListRestrictedEditors(ctx context.Context, sess Session, itemID string) ([]map[string]any, error) {
	if !access.CanManage(sess.principal()) {
		return nil, errForbidden()
	}
	if _, _, _, err := s.loadItemForAccess(ctx, sess, itemID); err != nil {
		return nil, err
	}
	editors, err := s.store.ListRestrictedEditors(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return restrictedPayloads(editors), nil
}

func (s *Service) AddRestrictedEditor(ctx context.Context, sess Session, itemID, userID string) error {
	if !access.CanManage(sess.principal()) {
		return errForbidden()
	}
	if _, _, _, err := s.loadItemForAccess(ctx, sess, itemID); err != nil {
		return err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errValidation("user does not exist")
		}
		return err
	}
	if err := s.store.InsertRestrictedEditor(ctx, itemID, userID); err != nil {
		return err
	}
	s.audit(ctx, sess, "restricted_editor.added", &itemID, nil, map[string]any{"userId": userID})
	return nil
}

func (s *Service) RemoveRestrictedEditor(ctx context.Context, sess Session, itemID, userID string) error {
	if !access.CanManage(sess.principal()) {
		return errForbidden()
	}
	if _, _, _, err := s.loadItemForAccess(ctx, sess, itemID); err != nil {
		return err
	}
	if err := s.store.DeleteRestrictedEditor(ctx, itemID, userID); err != nil {
		return err
	}
	s.audit(ctx, sess, "restricted_editor.removed", &itemID, nil, map[string]any{"userId": userID})
	return nil
}

// Revision history

func (s *Service) recordRevision(item store.Item, author, message string) {
	if s.history == nil {
		return
	}
	if _, err := s.history.Record(item.ID, history.Snapshot{
		Title:            item.Title,
		Content:          item.Content,
		LegacyFooterText: item.LegacyFooterText,
	}, author, message); err != nil {
		log.Printf("app: record revision for %s: %v", item.ID, err)
	}
}

func (s *Service) ItemHistory(ctx context.Context, sess Session, itemID string, limit int) ([]map[string]any, error) {
	_, resolved, viewable, err := s.loadItemForAccess(ctx, sess, itemID)
	if err != nil {
		return nil, err
	}
	principal := sess.principal()
	if !access.CanViewItem(principal, resolved, viewable) {
		return nil, errNotFound()
	}
	if !access.CanEditItem(principal, resolved, viewable) {
		return nil, errForbidden()
	}
	if s.history == nil {
		return []map[string]any{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	revisions, err := s.history.History(itemID, limit)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(revisions))
	for _, rev := range revisions {
		payloads = append(payloads, map[string]any{
			"hash":      rev.Hash,
			"message":   strings.TrimSpace(rev.Message),
			"author":    rev.Author,
			"createdAt": rev.CreatedAt,
		})
	}
	return payloads, nil
}

func (s *Service) ItemRevision(ctx context.Context, sess Session, itemID, hash string) (map[string]any, error) {
	_, resolved, viewable, err := s.loadItemForAccess(ctx, sess, itemID)
	if err != nil {
		return nil, err
	}
	principal := sess.principal()
	if !access.CanViewItem(principal, resolved, viewable) {
		return nil, errNotFound()
	}
	if !access.CanEditItem(principal, resolved, viewable) {
		return nil, errForbidden()
	}
	if s.history == nil {
		return nil, errNotFound()
	}
	snap, err := s.history.Snapshot(itemID, hash)
	if err != nil {
		return nil, errNotFound()
	}
	doc := content.Decode(snap.Content)
	raw, err := content.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	return map[string]any{
		"hash":       hash,
		"title":      snap.Title,
		"content":    raw,
		"footerHtml": content.FooterHTML(doc, snap.LegacyFooterText),
	}, nil
}

// Export

// pageSource adapts the data store and revision history to what the
// exporter needs.
type pageSource struct {
	store   dataStore
	history historyService
}

func (p pageSource) GetPage(ctx context.Context, itemID string) (export.PageInfo, error) {
	item, err := p.store.GetItem(ctx, itemID)
	if err != nil {
		return export.PageInfo{}, err
	}
	surgery, err := p.store.GetSurgery(ctx, item.SurgeryID)
	if err != nil {
		return export.PageInfo{}, err
	}
	author := item.CreatedBy
	if user, err := p.store.GetUserByID(ctx, item.CreatedBy); err == nil {
		author = user.DisplayName
	}
	return export.PageInfo{
		Title:            item.Title,
		SurgeryName:      surgery.Name,
		Author:           author,
		UpdatedAt:        item.UpdatedAt,
		Content:          item.Content,
		LegacyFooterText: item.LegacyFooterText,
	}, nil
}

func (p pageSource) GetPageAt(ctx context.Context, itemID, revision string) (export.PageInfo, error) {
	info, err := p.GetPage(ctx, itemID)
	if err != nil {
		return export.PageInfo{}, err
	}
	if p.history == nil {
		return export.PageInfo{}, fmt.Errorf("revision history unavailable")
	}
	snap, err := p.history.Snapshot(itemID, revision)
	if err != nil {
		return export.PageInfo{}, err
	}
	info.Title = snap.Title
	info.Content = snap.Content
	info.LegacyFooterText = snap.LegacyFooterText
	return info, nil
}

func (s *Service) ExportItem(ctx context.Context, sess Session, itemID, revision string, format export.Format) (*export.Result, error) {
	_, resolved, viewable, err := s.loadItemForAccess(ctx, sess, itemID)
	if err != nil {
		return nil, err
	}
	if !access.CanViewItem(sess.principal(), resolved, viewable) {
		return nil, errNotFound()
	}
	result, err := s.exporter.Export(ctx, export.Request{
		ItemID:   itemID,
		Revision: revision,
		Format:   format,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, sess, "item.exported", &itemID, nil, map[string]any{"format": string(format), "revision": revision})
	return result, nil
}

// Search

// Search runs the query scoped to the session's surgery and drops hits the
// caller may not see.
func (s *Service) Search(ctx context.Context, sess Session, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	q.SurgeryID = sess.SurgeryID

	resp := s.search.Search(q)

	_, viewable, err := s.viewableCategories(ctx, sess)
	if err != nil {
		return search.Response{}, err
	}
	filtered := make([]search.Result, 0, len(resp.Results))
	for _, result := range resp.Results {
		if result.CategoryID != "" {
			if _, ok := viewable[result.CategoryID]; !ok {
				continue
			}
		}
		filtered = append(filtered, result)
	}
	if len(filtered) != len(resp.Results) {
		resp.Total = len(filtered)
	}
	resp.Results = filtered
	return resp, nil
}

func (s *Service) indexItem(item store.Item, doc *content.Document) {
	if s.search == nil {
		return
	}
	categoryID := ""
	if item.CategoryID != nil {
		categoryID = *item.CategoryID
	}
	s.search.IndexItem(search.ItemRecord{
		ID:         item.ID,
		Title:      item.Title,
		Body:       documentText(doc, item.LegacyFooterText),
		Type:       item.Type,
		SurgeryID:  item.SurgeryID,
		CategoryID: categoryID,
	})
}

// documentText flattens a block document into plain text for indexing.
func documentText(doc *content.Document, legacyFooter string) string {
	var parts []string
	if doc != nil {
		for _, block := range doc.Blocks {
			switch block.Kind {
			case content.KindIntroText, content.KindFooterText:
				parts = append(parts, stripTags(block.HTML))
			case content.KindRoleCards:
				if block.RoleCards == nil {
					continue
				}
				if block.RoleCards.Title != "" {
					parts = append(parts, block.RoleCards.Title)
				}
				for _, card := range block.RoleCards.Cards {
					if card.Title != "" {
						parts = append(parts, card.Title)
					}
					parts = append(parts, stripTags(card.Body))
				}
			}
		}
	}
	if doc == nil || doc.Block(content.KindFooterText) == nil {
		if strings.TrimSpace(legacyFooter) != "" {
			parts = append(parts, legacyFooter)
		}
	}
	return strings.Join(parts, " ")
}

func stripTags(in string) string {
	var b strings.Builder
	inTag := false
	for _, r := range in {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(html.UnescapeString(strings.Join(strings.Fields(b.String()), " ")))
}
