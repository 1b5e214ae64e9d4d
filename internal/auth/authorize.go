package auth

import "strings"

// MatchMode selects how HasPermission combines several keys.
type MatchMode int

const (
	MatchAll MatchMode = iota
	MatchAny
)

// IsSystemAdmin reports whether the identity holds the SYSTEM_ADMIN role.
func IsSystemAdmin(id Identity) bool {
	return strings.EqualFold(id.Role, RoleSystemAdmin)
}

// HasRole reports whether the identity holds any of roles. System
// administrators pass every role check.
func HasRole(id Identity, roles ...string) bool {
	if id.UserID == "" {
		return false
	}
	if IsSystemAdmin(id) {
		return true
	}
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), id.Role) {
			return true
		}
	}
	return false
}

// HasPermission checks keys against the identity's permission set. An empty
// key list is denied. System administrators pass every permission check.
func HasPermission(id Identity, mode MatchMode, keys ...string) bool {
	if id.UserID == "" || len(keys) == 0 {
		return false
	}
	if IsSystemAdmin(id) {
		return true
	}
	set := make(map[string]struct{}, len(id.Permissions))
	for _, p := range id.Permissions {
		set[p] = struct{}{}
	}
	for _, k := range keys {
		_, ok := set[k]
		switch {
		case ok && mode == MatchAny:
			return true
		case !ok && mode == MatchAll:
			return false
		}
	}
	return mode == MatchAll
}
