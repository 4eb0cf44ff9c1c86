package store

import (
	"encoding/json"
	"time"
)

// Surgery is the organization a handbook belongs to. Every category, item
// and grant is scoped to one surgery.
type Surgery struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID            string
	DisplayName   string
	Email         string
	PasswordHash  string
	IsSuperuser   bool
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Membership links a user to a surgery with an organizational role
// (ADMIN or STANDARD). IsElevated grants manage rights without ADMIN.
type Membership struct {
	UserID     string
	SurgeryID  string
	Role       string
	IsElevated bool
	CreatedAt  time.Time
}

// Category is one node of the two-level handbook hierarchy. The three
// visibility columns mirror access.Visibility: mode plus the role and
// user-id sets it tests against.
type Category struct {
	ID                string
	SurgeryID         string
	Name              string
	ParentID          *string
	SortOrder         int
	VisibilityMode    string
	VisibilityRoles   []string
	VisibilityUserIDs []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Item is a handbook entry: a guidance PAGE carrying a content document,
// or a LIST of simple entries. Content is the raw block document JSON;
// NULL means no document. Items are only ever soft-deleted.
type Item struct {
	ID               string
	SurgeryID        string
	CategoryID       *string
	Type             string
	Title            string
	Content          json.RawMessage
	LegacyFooterText string
	IsPinned         bool
	CreatedBy        string
	DeletedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const (
	ItemTypePage = "PAGE"
	ItemTypeList = "LIST"
)

// ListEntry is one row of a LIST item.
type ListEntry struct {
	ID        string
	ItemID    string
	Title     string
	URL       string
	Phone     string
	SortOrder int
	CreatedAt time.Time
}

// EditGrant attaches one principal (a user or a role) to an item.
type EditGrant struct {
	ID            string
	SurgeryID     string
	ItemID        string
	PrincipalKind string
	UserID        string
	Role          string
	GrantedBy     string
	GrantedAt     time.Time
	// Joined for API responses
	UserEmail string
	UserName  string
}

// RestrictedEditor is the legacy user-id allow list that predates edit
// grants. An item with any rows here is only editable by listed users.
type RestrictedEditor struct {
	ItemID    string
	UserID    string
	CreatedAt time.Time
	// Joined for API responses
	UserEmail string
	UserName  string
}

type AuditEvent struct {
	ID         int64
	SurgeryID  string
	EventType  string
	ActorID    string
	ItemID     *string
	CategoryID *string
	Payload    map[string]any
	CreatedAt  time.Time
}
