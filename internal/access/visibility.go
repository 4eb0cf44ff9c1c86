package access

// ViewableCategoryIDs computes the set of category ids the user may view.
// Each category is judged on its own policy alone; a child never inherits
// its parent's visibility and a parent is never widened by its children.
// Superusers see everything.
func ViewableCategoryIDs(user User, categories []Category) map[string]struct{} {
	viewable := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		if user.IsSuperuser || CanViewCategory(user, c.Visibility) {
			viewable[c.ID] = struct{}{}
		}
	}
	return viewable
}

// CanViewCategory evaluates one visibility policy against the user.
// Unknown modes fail closed.
func CanViewCategory(user User, v Visibility) bool {
	switch v.Mode {
	case VisibilityAll:
		return true
	case VisibilityRoles:
		return roleListed(user.Role, v.Roles)
	case VisibilityUsers:
		return userListed(user.ID, v.UserIDs)
	case VisibilityRolesOrUsers:
		return roleListed(user.Role, v.Roles) || userListed(user.ID, v.UserIDs)
	default:
		return false
	}
}

// CanViewItem reports whether the user may view the item. Uncategorized
// items are visible to every member of the surgery.
func CanViewItem(user User, item Item, viewable map[string]struct{}) bool {
	if user.IsSuperuser {
		return true
	}
	if item.CategoryID == nil {
		return true
	}
	_, ok := viewable[*item.CategoryID]
	return ok
}

func roleListed(role Role, roles []Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func userListed(userID string, ids []string) bool {
	if userID == "" {
		return false
	}
	for _, id := range ids {
		if id == userID {
			return true
		}
	}
	return false
}
