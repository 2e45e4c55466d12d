package auth

// HasPermission reports whether p holds perm. Super admins hold every permission,
// including ones outside the known vocabulary. Everyone else is checked against
// the stored set, so explicit overrides win over role defaults.
func HasPermission(p *Principal, perm Permission) bool {
	if p == nil {
		return false
	}
	if p.IsSuperAdmin() {
		return true
	}
	return containsPermission(p.Permissions, perm)
}

// HasAny reports whether p holds at least one of perms. An empty list is true.
func HasAny(p *Principal, perms ...Permission) bool {
	if p == nil {
		return false
	}
	if p.IsSuperAdmin() || len(perms) == 0 {
		return true
	}
	for _, perm := range perms {
		if containsPermission(p.Permissions, perm) {
			return true
		}
	}
	return false
}

// HasAll reports whether p holds every one of perms. An empty list is true.
func HasAll(p *Principal, perms ...Permission) bool {
	if p == nil {
		return false
	}
	if p.IsSuperAdmin() {
		return true
	}
	for _, perm := range perms {
		if !containsPermission(p.Permissions, perm) {
			return false
		}
	}
	return true
}

// HasRole reports whether p's role is one of roles
func HasRole(p *Principal, roles ...Role) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Missing returns the permissions in perms that p does not hold
func Missing(p *Principal, perms ...Permission) []Permission {
	var missing []Permission
	for _, perm := range perms {
		if !HasPermission(p, perm) {
			missing = append(missing, perm)
		}
	}
	return missing
}
