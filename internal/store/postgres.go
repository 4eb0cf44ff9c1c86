package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Surgeries

func (s *PostgresStore) GetDefaultSurgery(ctx context.Context) (Surgery, error) {
	var sg Surgery
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at, updated_at
		FROM surgeries ORDER BY created_at ASC LIMIT 1
	`).Scan(&sg.ID, &sg.Name, &sg.Slug, &sg.CreatedAt, &sg.UpdatedAt)
	if err != nil {
		return Surgery{}, err
	}
	return sg, nil
}

func (s *PostgresStore) GetSurgery(ctx context.Context, surgeryID string) (Surgery, error) {
	var sg Surgery
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at, updated_at FROM surgeries WHERE id=$1
	`, surgeryID).Scan(&sg.ID, &sg.Name, &sg.Slug, &sg.CreatedAt, &sg.UpdatedAt)
	if err != nil {
		return Surgery{}, err
	}
	return sg, nil
}

func (s *PostgresStore) GetSurgeryBySlug(ctx context.Context, slug string) (Surgery, error) {
	var sg Surgery
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at, updated_at FROM surgeries WHERE slug=$1
	`, slug).Scan(&sg.ID, &sg.Name, &sg.Slug, &sg.CreatedAt, &sg.UpdatedAt)
	if err != nil {
		return Surgery{}, err
	}
	return sg, nil
}

func (s *PostgresStore) InsertSurgery(ctx context.Context, name, slug string) (Surgery, error) {
	var sg Surgery
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO surgeries (name, slug) VALUES ($1, $2)
		RETURNING id, name, slug, created_at, updated_at
	`, name, slug).Scan(&sg.ID, &sg.Name, &sg.Slug, &sg.CreatedAt, &sg.UpdatedAt)
	if err != nil {
		return Surgery{}, fmt.Errorf("insert surgery: %w", err)
	}
	return sg, nil
}

// ---------------------------------------------------------------------------
// Users and memberships

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_superuser, deactivated_at, created_at, updated_at
		FROM users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.IsSuperuser, &u.DeactivatedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_superuser, deactivated_at, created_at, updated_at
		FROM users WHERE id=$1
	`, userID).Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.IsSuperuser, &u.DeactivatedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name, email, password_hash, is_superuser)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, user.DisplayName, user.Email, user.PasswordHash, user.IsSuperuser).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// GetMembership returns the user's membership in the surgery. Missing rows
// come back as a STANDARD, non-elevated membership so resolvers fail closed
// rather than erroring on stale sessions.
func (s *PostgresStore) GetMembership(ctx context.Context, userID, surgeryID string) (Membership, error) {
	var m Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, surgery_id, role, is_elevated, created_at
		FROM memberships WHERE user_id=$1 AND surgery_id=$2
	`, userID, surgeryID).Scan(&m.UserID, &m.SurgeryID, &m.Role, &m.IsElevated, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Membership{UserID: userID, SurgeryID: surgeryID, Role: "STANDARD"}, nil
	}
	if err != nil {
		return Membership{}, fmt.Errorf("read membership: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) UpsertMembership(ctx context.Context, m Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, surgery_id, role, is_elevated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, surgery_id) DO UPDATE SET role=$3, is_elevated=$4
	`, m.UserID, m.SurgeryID, m.Role, m.IsElevated)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, surgeryID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.is_superuser, u.deactivated_at, u.created_at
		FROM users u
		JOIN memberships m ON m.user_id = u.id
		WHERE m.surgery_id=$1
		ORDER BY u.display_name ASC
	`, surgeryID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email, &u.IsSuperuser, &u.DeactivatedAt, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ---------------------------------------------------------------------------
// Categories

func scanCategory(scan func(dest ...any) error) (Category, error) {
	var c Category
	var roles, userIDs []byte
	err := scan(&c.ID, &c.SurgeryID, &c.Name, &c.ParentID, &c.SortOrder,
		&c.VisibilityMode, &roles, &userIDs, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Category{}, err
	}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &c.VisibilityRoles); err != nil {
			return Category{}, fmt.Errorf("decode visibility roles: %w", err)
		}
	}
	if len(userIDs) > 0 {
		if err := json.Unmarshal(userIDs, &c.VisibilityUserIDs); err != nil {
			return Category{}, fmt.Errorf("decode visibility users: %w", err)
		}
	}
	return c, nil
}

const categoryColumns = `id, surgery_id, name, parent_id, sort_order,
	visibility_mode, visibility_roles, visibility_user_ids, created_at, updated_at`

func (s *PostgresStore) ListCategories(ctx context.Context, surgeryID string) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+categoryColumns+` FROM categories
		WHERE surgery_id=$1
		ORDER BY sort_order ASC, name ASC
	`, surgeryID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		c, err := scanCategory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *PostgresStore) GetCategory(ctx context.Context, categoryID string) (Category, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+categoryColumns+` FROM categories WHERE id=$1
	`, categoryID)
	return scanCategory(row.Scan)
}

func (s *PostgresStore) InsertCategory(ctx context.Context, c Category) (Category, error) {
	roles, err := json.Marshal(emptyIfNil(c.VisibilityRoles))
	if err != nil {
		return Category{}, fmt.Errorf("encode visibility roles: %w", err)
	}
	userIDs, err := json.Marshal(emptyIfNil(c.VisibilityUserIDs))
	if err != nil {
		return Category{}, fmt.Errorf("encode visibility users: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO categories (surgery_id, name, parent_id, sort_order, visibility_mode, visibility_roles, visibility_user_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, c.SurgeryID, c.Name, c.ParentID, c.SortOrder, c.VisibilityMode, roles, userIDs).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, c Category) error {
	roles, err := json.Marshal(emptyIfNil(c.VisibilityRoles))
	if err != nil {
		return fmt.Errorf("encode visibility roles: %w", err)
	}
	userIDs, err := json.Marshal(emptyIfNil(c.VisibilityUserIDs))
	if err != nil {
		return fmt.Errorf("encode visibility users: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE categories
		SET name=$2, parent_id=$3, sort_order=$4, visibility_mode=$5,
			visibility_roles=$6, visibility_user_ids=$7, updated_at=NOW()
		WHERE id=$1
	`, c.ID, c.Name, c.ParentID, c.SortOrder, c.VisibilityMode, roles, userIDs)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCategory(ctx context.Context, categoryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id=$1`, categoryID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountCategoryChildren(ctx context.Context, categoryID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories WHERE parent_id=$1`, categoryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountCategoryItems(ctx context.Context, categoryID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM items WHERE category_id=$1 AND deleted_at IS NULL
	`, categoryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Items

const itemColumns = `id, surgery_id, category_id, item_type, title, content,
	legacy_footer_text, is_pinned, created_by, deleted_at, created_at, updated_at`

func scanItem(scan func(dest ...any) error) (Item, error) {
	var it Item
	var content []byte
	err := scan(&it.ID, &it.SurgeryID, &it.CategoryID, &it.Type, &it.Title, &content,
		&it.LegacyFooterText, &it.IsPinned, &it.CreatedBy, &it.DeletedAt, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return Item{}, err
	}
	if len(content) > 0 {
		it.Content = json.RawMessage(content)
	}
	return it, nil
}

func (s *PostgresStore) ListItems(ctx context.Context, surgeryID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE surgery_id=$1 AND deleted_at IS NULL
		ORDER BY is_pinned DESC, title ASC
	`, surgeryID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM items WHERE id=$1 AND deleted_at IS NULL
	`, itemID)
	return scanItem(row.Scan)
}

func (s *PostgresStore) InsertItem(ctx context.Context, it Item) (Item, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO items (surgery_id, category_id, item_type, title, content, legacy_footer_text, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, it.SurgeryID, it.CategoryID, it.Type, it.Title, nullableJSON(it.Content), it.LegacyFooterText, it.CreatedBy).
		Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return Item{}, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

// UpdateItem persists title, category and content in one statement so the
// read-modify-write around the block merge stays atomic at the row level.
func (s *PostgresStore) UpdateItem(ctx context.Context, it Item) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET title=$2, category_id=$3, content=$4, legacy_footer_text=$5, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, it.ID, it.Title, it.CategoryID, nullableJSON(it.Content), it.LegacyFooterText)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteItem(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE items SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, itemID)
	if err != nil {
		return fmt.Errorf("soft delete item: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetItemPinned(ctx context.Context, itemID string, pinned bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE items SET is_pinned=$2, updated_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, itemID, pinned)
	if err != nil {
		return fmt.Errorf("set pinned: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// List entries

func (s *PostgresStore) ListEntries(ctx context.Context, itemID string) ([]ListEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, title, url, phone, sort_order, created_at
		FROM list_entries WHERE item_id=$1 ORDER BY sort_order ASC, created_at ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []ListEntry
	for rows.Next() {
		var e ListEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Title, &e.URL, &e.Phone, &e.SortOrder, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) InsertListEntry(ctx context.Context, e ListEntry) (ListEntry, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO list_entries (item_id, title, url, phone, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, e.ItemID, e.Title, e.URL, e.Phone, e.SortOrder).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return ListEntry{}, fmt.Errorf("insert list entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) DeleteListEntry(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM list_entries WHERE id=$1`, entryID)
	if err != nil {
		return fmt.Errorf("delete list entry: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Edit grants and restricted editors

func (s *PostgresStore) ListItemGrants(ctx context.Context, itemID string) ([]EditGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.surgery_id, g.item_id, g.principal_kind,
			COALESCE(g.user_id, ''), COALESCE(g.role, ''), g.granted_by, g.granted_at,
			COALESCE(u.email, ''), COALESCE(u.display_name, '')
		FROM edit_grants g
		LEFT JOIN users u ON u.id = g.user_id
		WHERE g.item_id=$1
		ORDER BY g.granted_at ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

// ListSurgeryGrants loads every grant in the surgery in one query so the
// handbook view can compute per-item edit flags without N+1 lookups.
func (s *PostgresStore) ListSurgeryGrants(ctx context.Context, surgeryID string) ([]EditGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.surgery_id, g.item_id, g.principal_kind,
			COALESCE(g.user_id, ''), COALESCE(g.role, ''), g.granted_by, g.granted_at,
			'', ''
		FROM edit_grants g
		WHERE g.surgery_id=$1
	`, surgeryID)
	if err != nil {
		return nil, fmt.Errorf("list surgery grants: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

func collectGrants(rows *sql.Rows) ([]EditGrant, error) {
	var grants []EditGrant
	for rows.Next() {
		var g EditGrant
		if err := rows.Scan(&g.ID, &g.SurgeryID, &g.ItemID, &g.PrincipalKind,
			&g.UserID, &g.Role, &g.GrantedBy, &g.GrantedAt, &g.UserEmail, &g.UserName); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *PostgresStore) InsertGrant(ctx context.Context, g EditGrant) (EditGrant, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO edit_grants (surgery_id, item_id, principal_kind, user_id, role, granted_by)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		RETURNING id, granted_at
	`, g.SurgeryID, g.ItemID, g.PrincipalKind, g.UserID, g.Role, g.GrantedBy).Scan(&g.ID, &g.GrantedAt)
	if err != nil {
		return EditGrant{}, fmt.Errorf("insert grant: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) DeleteGrant(ctx context.Context, grantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM edit_grants WHERE id=$1`, grantID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRestrictedEditors(ctx context.Context, itemID string) ([]RestrictedEditor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.item_id, r.user_id, r.created_at, COALESCE(u.email, ''), COALESCE(u.display_name, '')
		FROM restricted_editors r
		LEFT JOIN users u ON u.id = r.user_id
		WHERE r.item_id=$1
		ORDER BY r.created_at ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list restricted editors: %w", err)
	}
	defer rows.Close()
	return collectRestrictedEditors(rows)
}

func (s *PostgresStore) ListSurgeryRestrictedEditors(ctx context.Context, surgeryID string) ([]RestrictedEditor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.item_id, r.user_id, r.created_at, '', ''
		FROM restricted_editors r
		JOIN items i ON i.id = r.item_id
		WHERE i.surgery_id=$1
	`, surgeryID)
	if err != nil {
		return nil, fmt.Errorf("list surgery restricted editors: %w", err)
	}
	defer rows.Close()
	return collectRestrictedEditors(rows)
}

func collectRestrictedEditors(rows *sql.Rows) ([]RestrictedEditor, error) {
	var editors []RestrictedEditor
	for rows.Next() {
		var r RestrictedEditor
		if err := rows.Scan(&r.ItemID, &r.UserID, &r.CreatedAt, &r.UserEmail, &r.UserName); err != nil {
			return nil, fmt.Errorf("scan restricted editor: %w", err)
		}
		editors = append(editors, r)
	}
	return editors, rows.Err()
}

func (s *PostgresStore) InsertRestrictedEditor(ctx context.Context, itemID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO restricted_editors (item_id, user_id) VALUES ($1, $2)
		ON CONFLICT (item_id, user_id) DO NOTHING
	`, itemID, userID)
	if err != nil {
		return fmt.Errorf("insert restricted editor: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRestrictedEditor(ctx context.Context, itemID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM restricted_editors WHERE item_id=$1 AND user_id=$2
	`, itemID, userID)
	if err != nil {
		return fmt.Errorf("delete restricted editor: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Audit events

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, e AuditEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (surgery_id, event_type, actor_id, item_id, category_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.SurgeryID, e.EventType, e.ActorID, e.ItemID, e.CategoryID, payload)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, surgeryID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, surgery_id, event_type, actor_id, item_id, category_id, payload, created_at
		FROM audit_events WHERE surgery_id=$1
		ORDER BY created_at DESC LIMIT $2
	`, surgeryID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.SurgeryID, &e.EventType, &e.ActorID, &e.ItemID, &e.CategoryID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ---------------------------------------------------------------------------
// helpers

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}
