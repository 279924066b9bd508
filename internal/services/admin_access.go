package services

import "strings"

// AdminAccess is the static allow-list of admin handles.
type AdminAccess struct {
	handles []string
	allowed map[string]struct{}
}

func NewAdminAccess(handles []string) *AdminAccess {
	a := &AdminAccess{allowed: make(map[string]struct{})}
	for _, h := range handles {
		key := normalizeHandle(h)
		if key == "" {
			continue
		}
		if _, dup := a.allowed[key]; dup {
			continue
		}
		a.allowed[key] = struct{}{}
		a.handles = append(a.handles, "@"+strings.TrimPrefix(strings.TrimSpace(h), "@"))
	}
	return a
}

// IsAdmin reports whether the handle, with or without a leading @, is an admin.
func (a *AdminAccess) IsAdmin(handle string) bool {
	key := normalizeHandle(handle)
	if key == "" {
		return false
	}
	_, ok := a.allowed[key]
	return ok
}

// Handles returns the admin handles in configuration order, each prefixed with @.
func (a *AdminAccess) Handles() []string {
	out := make([]string, len(a.handles))
	copy(out, a.handles)
	return out
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
