package access

// CanManage is the coarse authority check: superusers, surgery admins, and
// members carrying the elevated flag. Structural changes (categories, the
// grants list, category reassignment, pinned items) require it.
func CanManage(user User) bool {
	return user.IsSuperuser || user.Role == RoleAdmin || user.IsElevated
}

// CanEditItem decides whether the user may write this specific item.
// Resolution order, first match wins:
//
//  1. superuser: allow
//  2. manager: allow
//  3. cannot view the item's category: deny, grants notwithstanding
//  4. no grants and no legacy editors: allow (default-open item)
//  5. listed in the legacy restricted-editor list: allow
//  6. a grant names the user or the user's role: allow
//  7. deny
//
// Legacy editors and grants are independent mechanisms on older items;
// passing either is sufficient.
func CanEditItem(user User, item Item, viewable map[string]struct{}) bool {
	if user.IsSuperuser {
		return true
	}
	if CanManage(user) {
		return true
	}
	if !CanViewItem(user, item, viewable) {
		return false
	}
	if len(item.Grants) == 0 && len(item.RestrictedEditorIDs) == 0 {
		return true
	}
	if userListed(user.ID, item.RestrictedEditorIDs) {
		return true
	}
	return grantMatches(user, item.Grants)
}

func grantMatches(user User, grants []Grant) bool {
	for _, g := range grants {
		switch g.Kind {
		case PrincipalUser:
			if g.UserID != "" && g.UserID == user.ID {
				return true
			}
		case PrincipalRole:
			if g.Role == user.Role {
				return true
			}
		}
		// unknown principal kinds never match
	}
	return false
}
