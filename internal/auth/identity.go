package auth

import "github.com/golang-jwt/jwt/v5"

// Known roles, ordered by privilege.
const (
	RoleUser       = "user"
	RoleModerator  = "moderator"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
	RoleInternal   = "internal"
)

// Identity is the canonical authenticated principal attached to a session.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role"`
}

// IdentityFromClaims normalizes the three token payload shapes issued over
// time: flat claims, a nested user object, and a nested profile object.
func IdentityFromClaims(claims jwt.MapClaims) (Identity, error) {
	sources := []map[string]interface{}{claims}
	if user, ok := claims["user"].(map[string]interface{}); ok {
		sources = append(sources, user)
	}
	if profile, ok := claims["profile"].(map[string]interface{}); ok {
		sources = append(sources, profile)
	}

	id := Identity{Role: RoleUser}
	for _, src := range sources {
		if id.ID == "" {
			id.ID = firstString(src, "id", "sub", "userId", "user_id")
		}
		if id.Name == "" {
			id.Name = firstString(src, "name", "username", "displayName")
		}
		if id.Email == "" {
			id.Email = firstString(src, "email")
		}
		if id.Avatar == "" {
			id.Avatar = firstString(src, "avatar", "image", "picture")
		}
		if r := firstString(src, "role"); r != "" {
			id.Role = r
		}
	}
	if id.ID == "" {
		return Identity{}, ErrMissingIdentity
	}
	return id, nil
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

var roleLevels = map[string]int{
	RoleUser:       1,
	RoleModerator:  2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
	RoleInternal:   4,
}

// RoleLevel returns the privilege level for a role; unknown roles rank as
// plain users.
func RoleLevel(role string) int {
	if lvl, ok := roleLevels[role]; ok {
		return lvl
	}
	return roleLevels[RoleUser]
}

// HasRole reports whether the identity meets the minimum role requirement.
func (i Identity) HasRole(min string) bool {
	return RoleLevel(i.Role) >= RoleLevel(min)
}

// Quota returns the per-minute event allowance for a role.
func Quota(role string) int {
	switch role {
	case RoleModerator:
		return 200
	case RoleAdmin:
		return 500
	case RoleSuperAdmin, RoleInternal:
		return 1000
	default:
		return 100
	}
}
