package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	invdomain "github.com/smallbiznis/billingguard/internal/invariant/domain"
)

const (
	RoleOwner     = "OWNER"
	RoleAdmin     = "ADMIN"
	RoleFinOps    = "FINOPS"    // Billing and invoices
	RoleDeveloper = "DEVELOPER" // Projects
	RoleMember    = "MEMBER"    // Read-only
)

// NormalizeRole upper-cases role and reports whether it is known.
func NormalizeRole(role string) (string, bool) {
	role = strings.ToUpper(strings.TrimSpace(role))
	switch role {
	case RoleOwner, RoleAdmin, RoleFinOps, RoleDeveloper, RoleMember:
		return role, true
	default:
		return role, false
	}
}

type Service interface {
	ListMembers(ctx context.Context, orgID string) ([]*OrganizationMember, error)
	ChangeRole(ctx context.Context, orgID, memberID, role string) (*OrganizationMember, error)
	RemoveMember(ctx context.Context, orgID, memberID string) error

	AssertCanRemoveMember(ctx context.Context, orgID, memberID string) error
	AssertCanChangeRole(ctx context.Context, orgID, memberID, role string) error

	CheckOrganizationHasOwner(ctx context.Context, orgID string) (*invdomain.Violation, error)
	CheckWorkspaceMembers(ctx context.Context, orgID string) ([]*invdomain.Violation, error)
	CheckProjectTeams(ctx context.Context, orgID string) ([]*invdomain.Violation, error)
	CheckOwnerAccess(ctx context.Context, orgID string) ([]*invdomain.Violation, error)
	AuditOrganization(ctx context.Context, orgID string) (OrgReport, error)
}

// OrgReport collects every violation found in one organization.
type OrgReport struct {
	OrganizationID string                 `json:"organization_id"`
	Passed         bool                   `json:"passed"`
	Violations     []*invdomain.Violation `json:"violations"`
	CheckedAt      time.Time              `json:"checked_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidMember       = errors.New("invalid_member")
	ErrMemberNotFound      = errors.New("member_not_found")
	ErrInvalidRole         = errors.New("invalid_role")
)
