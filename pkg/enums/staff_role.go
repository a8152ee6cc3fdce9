package enums

import "fmt"

// StaffRole identifies what an authenticated console user may do. Operators
// run dispatch operations; admins can additionally delete requests.
type StaffRole string

const (
	StaffRoleAdmin    StaffRole = "admin"
	StaffRoleOperator StaffRole = "operator"
)

var validStaffRoles = []StaffRole{
	StaffRoleAdmin,
	StaffRoleOperator,
}

// IsValid checks whether the given role matches the canonical enum.
func (r StaffRole) IsValid() bool {
	for _, candidate := range validStaffRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseStaffRole converts raw strings into StaffRole.
func ParseStaffRole(value string) (StaffRole, error) {
	for _, candidate := range validStaffRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid staff role %q", value)
}
