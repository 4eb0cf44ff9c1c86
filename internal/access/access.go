// Package access decides who may view and who may edit handbook content.
// Everything here is pure: callers load the rows, access answers questions.
package access

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleStandard Role = "STANDARD"
)

// Normalize maps arbitrary stored role strings onto a known Role,
// defaulting to STANDARD.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleStandard:
		return Role(role)
	default:
		return RoleStandard
	}
}

// User is the acting staff member as seen by the resolvers: their
// membership role within the surgery, plus the global superuser flag.
// IsElevated is a per-membership override that confers manage rights
// without the ADMIN role.
type User struct {
	ID          string
	Role        Role
	IsSuperuser bool
	IsElevated  bool
}

type VisibilityMode string

const (
	VisibilityAll          VisibilityMode = "ALL"
	VisibilityRoles        VisibilityMode = "ROLES"
	VisibilityUsers        VisibilityMode = "USERS"
	VisibilityRolesOrUsers VisibilityMode = "ROLES_OR_USERS"
)

// Visibility is a category's view policy. An empty Roles/UserIDs set under
// a restricted mode means "visible to nobody" and is how staff soft-hide a
// category; it is valid data, not an error.
type Visibility struct {
	Mode    VisibilityMode
	Roles   []Role
	UserIDs []string
}

// Category is one node of the two-level handbook hierarchy. ParentID nil
// means top-level; non-nil must point at a top-level category (the store
// enforces that on write, the resolver never re-validates it).
type Category struct {
	ID         string
	Name       string
	ParentID   *string
	SortOrder  int
	Visibility Visibility
}

type PrincipalKind string

const (
	PrincipalUser PrincipalKind = "USER"
	PrincipalRole PrincipalKind = "ROLE"
)

// Grant attaches exactly one principal to an item. A grant whose Kind is
// neither USER nor ROLE never matches anyone.
type Grant struct {
	Kind   PrincipalKind
	UserID string
	Role   Role
}

// Item carries the fields the resolvers need: which category the item sits
// under (nil means uncategorized), its grants, and the legacy restricted
// editor list that predates grants.
type Item struct {
	ID                  string
	CategoryID          *string
	Grants              []Grant
	RestrictedEditorIDs []string
}
