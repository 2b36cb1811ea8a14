// README: Identity claim supplied by the session service; trusted verbatim.
package types

type Role string

const (
	RoleUser     Role = "user"
	RoleAdmin    Role = "admin"
	RoleDelivery Role = "delivery"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleDelivery
}

type Actor struct {
	ID   ID
	Role Role
}
