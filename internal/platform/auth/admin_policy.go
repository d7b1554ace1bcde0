package auth

import "strings"

// AdminPolicy decides whether an authenticated identity may operate the back office.
// A principal is an admin when it carries the admin role claim or its email is allow-listed.
type AdminPolicy struct {
	role   string
	emails map[string]struct{}
}

// NewAdminPolicy builds a policy. An empty role defaults to RoleAdmin.
func NewAdminPolicy(role string, emails []string) AdminPolicy {
	role = normaliseRole(role)
	if role == "" {
		role = RoleAdmin
	}
	allowed := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			allowed[email] = struct{}{}
		}
	}
	return AdminPolicy{role: role, emails: allowed}
}

// IsAdmin reports whether identity is allowed to use admin endpoints.
func (p AdminPolicy) IsAdmin(identity *Identity) bool {
	if identity == nil {
		return false
	}
	if identity.HasRole(p.role) {
		return true
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		return false
	}
	_, ok := p.emails[email]
	return ok
}
