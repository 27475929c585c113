package notify

// Role names recognised by the notification subsystem. Role assignment
// itself is owned by the auth layer; the subsystem only checks membership.
const (
	RolePlatformAdmin = "platform_admin"
	RoleSchoolAdmin   = "school_admin"
	RoleTeacher       = "teacher"
)

// Actor is the authenticated identity performing an operation. It is
// passed by value into every operation; a non-platform-admin actor is
// confined to its own tenant and, unless elevated, its own user id.
type Actor struct {
	ID       string   `json:"id" validate:"required,uuid"`
	TenantID string   `json:"tenantId,omitempty" validate:"omitempty,uuid"`
	Roles    []string `json:"roles" validate:"min=1"`
}

// HasRole reports whether the actor holds the given role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsPlatformAdmin reports whether the actor may act across tenants.
func (a Actor) IsPlatformAdmin() bool {
	return a.HasRole(RolePlatformAdmin)
}

// CanSend reports whether the actor may send notifications at all.
func (a Actor) CanSend() bool {
	return a.HasRole(RolePlatformAdmin) || a.HasRole(RoleSchoolAdmin) || a.HasRole(RoleTeacher)
}
