package types

// Role of a user within a room. The role is fixed at token issuance and never
// re-validated against current room state.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleGuest
}

// Identity is the verified result of token authentication: who the caller is,
// which room the credential is bound to and with which role.
type Identity struct {
	UserId string `json:"userId"`
	RoomId string `json:"roomId"`
	Role   Role   `json:"role"`
}
