package rbac

import (
	"errors"
	"fmt"
)

type Role string
type Action string

const (
	RoleUser          Role = "user"
	RoleOwner         Role = "owner"
	RoleAdminEmployee Role = "admin_employee"
	RoleAdmin         Role = "admin"
	RoleSuperAdmin    Role = "super_admin"
)

const (
	ActionReadListing  Action = "read_listing"
	ActionSubmitClaim  Action = "submit_claim"
	ActionReviewClaims Action = "review_claims"
	ActionDecideClaim  Action = "decide_claim"
)

// ModeratorRoles may act on the claim ledger.
var ModeratorRoles = []Role{RoleAdmin, RoleAdminEmployee, RoleSuperAdmin}

var ErrForbidden = errors.New("forbidden")

func Can(role Role, action Action) bool {
	switch role {
	case RoleSuperAdmin, RoleAdmin, RoleAdminEmployee:
		return true
	case RoleOwner, RoleUser:
		return action == ActionReadListing || action == ActionSubmitClaim
	default:
		return action == ActionReadListing
	}
}

// RequireRole returns ErrForbidden unless role is one of allowed.
func RequireRole(role Role, allowed ...Role) error {
	for _, candidate := range allowed {
		if role == candidate {
			return nil
		}
	}
	return fmt.Errorf("%w: role %q", ErrForbidden, role)
}

func IsModerator(role Role) bool {
	return RequireRole(role, ModeratorRoles...) == nil
}

// Normalize maps stored role strings onto known roles. The legacy "admin-employee"
// spelling is accepted.
func Normalize(role string) Role {
	switch role {
	case "admin-employee":
		return RoleAdminEmployee
	case "superadmin", "super-admin":
		return RoleSuperAdmin
	}
	switch Role(role) {
	case RoleUser, RoleOwner, RoleAdminEmployee, RoleAdmin, RoleSuperAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
