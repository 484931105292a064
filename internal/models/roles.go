package models

type Role string

const (
	RoleNone      Role = ""
	RoleAdmin     Role = "admin"
	RolePentester Role = "pentester"
	RoleClient    Role = "client"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePentester, RoleClient:
		return true
	}
	return false
}

// ParseRole returns RoleNone and false for anything outside the three known roles.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	if !r.Valid() {
		return RoleNone, false
	}
	return r, true
}
