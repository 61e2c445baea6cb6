// Package actor carries the authenticated caller identity forwarded by the gateway.
package actor

import (
	"fmt"
	"strings"

	"github.com/drfirst/go-periop/internal/domain/apperror"
)

// Role is a hospital staff role as forwarded in X-Actor-Role
type Role string

const (
	RoleAnesthetist           Role = "anesthetist"
	RoleConsultantAnesthetist Role = "consultant-anesthetist"
	RoleTheatreManager        Role = "theatre-manager"
	RolePharmacist            Role = "pharmacist"
	RolePharmacyTechnician    Role = "pharmacy-technician"
	RoleNurse                 Role = "nurse"
	RolePACUNurse             Role = "pacu-nurse"
	RoleAdmin                 Role = "admin"
)

// Role sets allowed per operation
var (
	ReviewSubmitters = []Role{RoleAnesthetist, RoleConsultantAnesthetist, RoleAdmin}
	ReviewDeciders   = []Role{RoleConsultantAnesthetist, RoleAdmin, RoleTheatreManager}
	PharmacyStaff    = []Role{RolePharmacist, RolePharmacyTechnician, RoleAdmin}
)

// Actor is the caller performing an operation
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// ParseRole normalizes a header value into a Role
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// Is reports whether the actor holds one of roles
func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// Require returns ErrForbidden unless a is identified and holds one of roles
func Require(a Actor, roles ...Role) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("missing actor id: %w", apperror.ErrForbidden)
	}
	if !a.Is(roles...) {
		return fmt.Errorf("role %q: %w", a.Role, apperror.ErrForbidden)
	}
	return nil
}
