// Package auth holds the role model, the authorization gate and session verification.
package auth

import (
	"sort"
	"strings"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// Role is a capability label attached to an identity
type Role uint8

// Known roles
const (
	RoleAdmin Role = 1 << iota
	RoleEditor
)

var roleNames = map[Role]string{
	RoleAdmin:  "admin",
	RoleEditor: "editor",
}

func (r Role) String() string {
	return roleNames[r]
}

// ParseRole converts a label into a Role
func ParseRole(label string) (Role, error) {
	l := strings.ToLower(strings.TrimSpace(label))
	for r, name := range roleNames {
		if name == l {
			return r, nil
		}
	}
	return 0, domain.InvalidInput("unknown role %q", label)
}

// RoleSet is a finite set of roles
type RoleSet uint8

// NewRoleSet builds a set from roles
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= RoleSet(r)
	}
	return s
}

// ParseRoles builds a set from labels, ignoring blanks and duplicates
func ParseRoles(labels []string) (RoleSet, error) {
	var s RoleSet
	for _, label := range labels {
		if strings.TrimSpace(label) == "" {
			continue
		}
		r, err := ParseRole(label)
		if err != nil {
			return 0, err
		}
		s |= RoleSet(r)
	}
	return s, nil
}

// Has reports whether r is in the set
func (s RoleSet) Has(r Role) bool {
	return s&RoleSet(r) != 0
}

// Empty reports whether the set has no roles
func (s RoleSet) Empty() bool {
	return s == 0
}

// Strings returns the sorted labels of the set
func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(roleNames))
	for r, name := range roleNames {
		if s.Has(r) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Requirement is the capability an operation demands
type Requirement int

// Requirements
const (
	RequireAdmin Requirement = iota
	RequireEditor
	RequireEditorOrAdmin
)

func (r Requirement) String() string {
	switch r {
	case RequireAdmin:
		return "admin"
	case RequireEditor:
		return "editor"
	case RequireEditorOrAdmin:
		return "editor-or-admin"
	}
	return "unknown"
}

// Can reports whether roles satisfy req. There is no hierarchy: admin does not
// imply editor except through the explicit editor-or-admin requirement.
func Can(roles RoleSet, req Requirement) bool {
	switch req {
	case RequireAdmin:
		return roles.Has(RoleAdmin)
	case RequireEditor:
		return roles.Has(RoleEditor)
	case RequireEditorOrAdmin:
		return roles.Has(RoleEditor) || roles.Has(RoleAdmin)
	}
	return false
}

// Identity is a verified caller
type Identity struct {
	UID   string
	Email string
	Roles RoleSet
}

// Authorize returns a Forbidden error unless id satisfies req. A nil identity is anonymous.
func Authorize(id *Identity, req Requirement) error {
	if id != nil && Can(id.Roles, req) {
		return nil
	}
	uid := ""
	if id != nil {
		uid = id.UID
	}
	return domain.Forbidden(uid, req.String())
}
