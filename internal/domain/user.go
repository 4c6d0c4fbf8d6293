package domain

type Role string

const (
	RoleStaff      Role = "staff"
	RoleManager    Role = "manager"
	RoleHotelAdmin Role = "hotel_admin"
	RoleSuperAdmin Role = "super_admin"
)

var roleRank = map[Role]int{
	RoleStaff:      0,
	RoleManager:    1,
	RoleHotelAdmin: 2,
	RoleSuperAdmin: 3,
}

// HasPermission reports whether the role grants at least minRole's access.
func (r Role) HasPermission(minRole Role) bool {
	return roleRank[r] >= roleRank[minRole]
}

// Recipient is a user resolved from the tenant's directory for notification
// delivery. ChatHandle is empty when the user has not linked the chat bot.
type Recipient struct {
	ID         string
	TenantID   string
	Name       string
	Role       Role
	Email      string
	ChatHandle string
}
