package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/smallbiznis/billingguard/internal/authorization"
	"github.com/smallbiznis/billingguard/internal/clock"
	"github.com/smallbiznis/billingguard/internal/invariant/checker"
	invdomain "github.com/smallbiznis/billingguard/internal/invariant/domain"
	"github.com/smallbiznis/billingguard/internal/organization/domain"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Store   *backend.Backend
	Log     *zap.Logger
	Clock   clock.Clock
	Checker *checker.Checker
	Authz   authorization.Service
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	checker *checker.Checker
	authz   authorization.Service

	members          docstore.Collection[domain.OrganizationMember]
	workspaces       docstore.Collection[domain.Workspace]
	workspaceMembers docstore.Collection[domain.WorkspaceMember]
	projects         docstore.Collection[domain.Project]
	teams            docstore.Collection[domain.ProjectTeam]
	teamMembers      docstore.Collection[domain.ProjectTeamMember]
}

func NewService(p ServiceParam) domain.Service {
	return newService(p.Store, p.Authz, p.Checker, p.Clock, p.Log)
}

func newService(store *backend.Backend, authz authorization.Service, chk *checker.Checker, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		log:              log.Named("organization.service"),
		clock:            clk,
		checker:          chk,
		authz:            authz,
		members:          backend.Collection[domain.OrganizationMember](store),
		workspaces:       backend.Collection[domain.Workspace](store),
		workspaceMembers: backend.Collection[domain.WorkspaceMember](store),
		projects:         backend.Collection[domain.Project](store),
		teams:            backend.Collection[domain.ProjectTeam](store),
		teamMembers:      backend.Collection[domain.ProjectTeamMember](store),
	}
}

func (s *Service) ListMembers(ctx context.Context, orgID string) ([]*domain.OrganizationMember, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, domain.ErrInvalidOrganization
	}
	return s.members.List(ctx, []docstore.Predicate{docstore.Equal("org_id", orgID)}, 0)
}

func (s *Service) owners(ctx context.Context, orgID string) ([]*domain.OrganizationMember, error) {
	members, err := s.ListMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return lo.Filter(members, func(m *domain.OrganizationMember, _ int) bool {
		return m.Role == domain.RoleOwner
	}), nil
}

func (s *Service) getMember(ctx context.Context, orgID, memberID string) (*domain.OrganizationMember, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, domain.ErrInvalidMember
	}
	member, err := s.members.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member == nil || member.OrgID != strings.TrimSpace(orgID) {
		return nil, domain.ErrMemberNotFound
	}
	return member, nil
}

// AssertCanRemoveMember blocks removal of the last owner.
func (s *Service) AssertCanRemoveMember(ctx context.Context, orgID, memberID string) error {
	member, err := s.getMember(ctx, orgID, memberID)
	if err != nil {
		return err
	}
	return s.assertNotLastOwner(ctx, member, "remove")
}

// AssertCanChangeRole blocks demoting the last owner.
func (s *Service) AssertCanChangeRole(ctx context.Context, orgID, memberID, role string) error {
	role, ok := domain.NormalizeRole(role)
	if !ok {
		return domain.ErrInvalidRole
	}
	member, err := s.getMember(ctx, orgID, memberID)
	if err != nil {
		return err
	}
	if role == domain.RoleOwner {
		return nil
	}
	return s.assertNotLastOwner(ctx, member, "demote")
}

// assertNotLastOwner reads the owner set and the caller writes afterwards, so
// two owners removed or demoted concurrently can each see the other and both
// succeed. The writers call verifyOwnerRemains once their write has landed to
// record ORG_MUST_HAVE_OWNER when that happens.
func (s *Service) assertNotLastOwner(ctx context.Context, member *domain.OrganizationMember, op string) error {
	if member.Role != domain.RoleOwner {
		return nil
	}
	owners, err := s.owners(ctx, member.OrgID)
	if err != nil {
		return err
	}
	if v := s.checker.Evaluate(ctx, len(owners) > 1, invdomain.LastOwnerRemoval, func() string {
		return fmt.Sprintf("cannot %s member %s: last owner of organization %s", op, member.ID, member.OrgID)
	}, map[string]any{
		"organization_id": member.OrgID,
		"member_id":       member.ID,
		"user_id":         member.UserID,
		"operation":       op,
	}); v != nil {
		return v
	}
	return nil
}

// verifyOwnerRemains re-reads the owner set after an owner was removed or
// demoted. The write is not undone; the violation is recorded for the audit.
func (s *Service) verifyOwnerRemains(ctx context.Context, member *domain.OrganizationMember, op string) {
	v, err := s.CheckOrganizationHasOwner(ctx, member.OrgID)
	if err != nil {
		s.log.Warn("organization.owner_recheck_failed",
			zap.String("organization_id", member.OrgID),
			zap.String("member_id", member.ID),
			zap.Error(err),
		)
		return
	}
	if v != nil {
		s.log.Error("organization.owner_lost",
			zap.String("organization_id", member.OrgID),
			zap.String("member_id", member.ID),
			zap.String("operation", op),
		)
	}
}

func (s *Service) ChangeRole(ctx context.Context, orgID, memberID, role string) (*domain.OrganizationMember, error) {
	if err := s.AssertCanChangeRole(ctx, orgID, memberID, role); err != nil {
		return nil, err
	}
	role, _ = domain.NormalizeRole(role)
	previous, err := s.getMember(ctx, orgID, memberID)
	if err != nil {
		return nil, err
	}
	if err := s.members.Update(ctx, strings.TrimSpace(memberID), map[string]any{"role": role}); err != nil {
		return nil, err
	}
	if previous.Role == domain.RoleOwner && role != domain.RoleOwner {
		s.verifyOwnerRemains(ctx, previous, "demote")
	}
	s.log.Info("organization.member_role_changed",
		zap.String("organization_id", orgID),
		zap.String("member_id", memberID),
		zap.String("role", role),
	)
	return s.getMember(ctx, orgID, memberID)
}

// RemoveMember deletes the membership together with the workspace and project
// team memberships that hang off it.
func (s *Service) RemoveMember(ctx context.Context, orgID, memberID string) error {
	member, err := s.getMember(ctx, orgID, memberID)
	if err != nil {
		return err
	}
	if err := s.assertNotLastOwner(ctx, member, "remove"); err != nil {
		return err
	}
	memberID = member.ID

	wsMembers, err := s.workspaceMembers.List(ctx, []docstore.Predicate{
		docstore.Equal("org_member_id", memberID),
	}, 0)
	if err != nil {
		return err
	}
	for _, wm := range wsMembers {
		teamMembers, err := s.teamMembers.List(ctx, []docstore.Predicate{
			docstore.Equal("workspace_member_id", wm.ID),
		}, 0)
		if err != nil {
			return err
		}
		for _, tm := range teamMembers {
			if err := s.teamMembers.Delete(ctx, tm.ID); err != nil {
				return err
			}
		}
		if err := s.workspaceMembers.Delete(ctx, wm.ID); err != nil {
			return err
		}
	}
	if err := s.members.Delete(ctx, memberID); err != nil {
		return err
	}
	if member.Role == domain.RoleOwner {
		s.verifyOwnerRemains(ctx, member, "remove")
	}

	s.log.Info("organization.member_removed",
		zap.String("organization_id", orgID),
		zap.String("member_id", memberID),
		zap.Int("workspace_memberships", len(wsMembers)),
	)
	return nil
}

func (s *Service) CheckOrganizationHasOwner(ctx context.Context, orgID string) (*invdomain.Violation, error) {
	owners, err := s.owners(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return s.checker.Evaluate(ctx, len(owners) > 0, invdomain.OrgMustHaveOwner, func() string {
		return fmt.Sprintf("organization %s has no owner", orgID)
	}, map[string]any{"organization_id": orgID}), nil
}

// CheckWorkspaceMembers verifies that every member of an organization
// workspace is backed by a membership of the same user in that organization.
func (s *Service) CheckWorkspaceMembers(ctx context.Context, orgID string) ([]*invdomain.Violation, error) {
	members, err := s.ListMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(members, func(m *domain.OrganizationMember) string { return m.ID })

	workspaces, err := s.orgWorkspaces(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var violations []*invdomain.Violation
	for _, ws := range workspaces {
		wsMembers, err := s.workspaceMembers.List(ctx, []docstore.Predicate{
			docstore.Equal("workspace_id", ws.ID),
		}, 0)
		if err != nil {
			return nil, err
		}
		for _, wm := range wsMembers {
			orgMember, ok := byID[wm.OrgMemberID]
			valid := ok && orgMember.UserID == wm.UserID
			if v := s.checker.Evaluate(ctx, valid, invdomain.WorkspaceMemberOrgMismatch, func() string {
				if !ok {
					return fmt.Sprintf("workspace member %s of %s has no membership in organization %s", wm.ID, ws.ID, orgID)
				}
				return fmt.Sprintf("workspace member %s of %s is user %s but organization member %s is user %s", wm.ID, ws.ID, wm.UserID, orgMember.ID, orgMember.UserID)
			}, map[string]any{
				"organization_id":     orgID,
				"workspace_id":        ws.ID,
				"workspace_member_id": wm.ID,
				"org_member_id":       wm.OrgMemberID,
			}); v != nil {
				violations = append(violations, v)
			}
		}
	}
	return violations, nil
}

// CheckProjectTeams verifies that team members belong to the team's project
// and to the workspace that owns the project.
func (s *Service) CheckProjectTeams(ctx context.Context, orgID string) ([]*invdomain.Violation, error) {
	workspaces, err := s.orgWorkspaces(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var violations []*invdomain.Violation
	for _, ws := range workspaces {
		projects, err := s.projects.List(ctx, []docstore.Predicate{docstore.Equal("workspace_id", ws.ID)}, 0)
		if err != nil {
			return nil, err
		}
		for _, project := range projects {
			teams, err := s.teams.List(ctx, []docstore.Predicate{docstore.Equal("project_id", project.ID)}, 0)
			if err != nil {
				return nil, err
			}
			for _, team := range teams {
				found, err := s.checkTeam(ctx, orgID, project, team)
				if err != nil {
					return nil, err
				}
				violations = append(violations, found...)
			}
		}
	}
	return violations, nil
}

func (s *Service) checkTeam(ctx context.Context, orgID string, project *domain.Project, team *domain.ProjectTeam) ([]*invdomain.Violation, error) {
	teamMembers, err := s.teamMembers.List(ctx, []docstore.Predicate{docstore.Equal("team_id", team.ID)}, 0)
	if err != nil {
		return nil, err
	}

	var violations []*invdomain.Violation
	for _, tm := range teamMembers {
		wm, err := s.workspaceMembers.Get(ctx, tm.WorkspaceMemberID)
		if err != nil {
			return nil, err
		}
		var reason string
		switch {
		case tm.ProjectID != team.ProjectID:
			reason = fmt.Sprintf("team member %s points at project %s but team %s belongs to %s", tm.ID, tm.ProjectID, team.ID, team.ProjectID)
		case wm == nil:
			reason = fmt.Sprintf("team member %s references missing workspace member %s", tm.ID, tm.WorkspaceMemberID)
		case wm.WorkspaceID != project.WorkspaceID:
			reason = fmt.Sprintf("team member %s is a member of workspace %s, not %s", tm.ID, wm.WorkspaceID, project.WorkspaceID)
		}
		if v := s.checker.Evaluate(ctx, reason == "", invdomain.ProjectTeamBoundary, func() string { return reason }, map[string]any{
			"organization_id":     orgID,
			"project_id":          project.ID,
			"team_id":             team.ID,
			"team_member_id":      tm.ID,
			"workspace_member_id": tm.WorkspaceMemberID,
		}); v != nil {
			violations = append(violations, v)
		}
	}
	return violations, nil
}

// CheckOwnerAccess verifies through the capability model that no owner has
// lost any owner capability.
func (s *Service) CheckOwnerAccess(ctx context.Context, orgID string) ([]*invdomain.Violation, error) {
	owners, err := s.owners(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var violations []*invdomain.Violation
	for _, owner := range owners {
		missing, err := s.authz.MissingCapabilities(ctx, authorization.Subject(owner.UserID), orgID, domain.RoleOwner, authorization.OwnerCapabilities)
		if err != nil {
			return nil, err
		}
		names := lo.Map(missing, func(c authorization.Capability, _ int) string { return c.String() })
		if v := s.checker.Evaluate(ctx, len(missing) == 0, invdomain.OwnerAccessBlocked, func() string {
			return fmt.Sprintf("owner %s of organization %s is denied %s", owner.UserID, orgID, strings.Join(names, ", "))
		}, map[string]any{
			"organization_id": orgID,
			"user_id":         owner.UserID,
			"missing":         names,
		}); v != nil {
			violations = append(violations, v)
		}
	}
	return violations, nil
}

func (s *Service) AuditOrganization(ctx context.Context, orgID string) (domain.OrgReport, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return domain.OrgReport{}, domain.ErrInvalidOrganization
	}
	report := domain.OrgReport{
		OrganizationID: orgID,
		Violations:     []*invdomain.Violation{},
		CheckedAt:      s.clock.Now().UTC(),
	}

	v, err := s.CheckOrganizationHasOwner(ctx, orgID)
	if err != nil {
		return domain.OrgReport{}, err
	}
	if v != nil {
		report.Violations = append(report.Violations, v)
	}

	for _, check := range []func(context.Context, string) ([]*invdomain.Violation, error){
		s.CheckWorkspaceMembers,
		s.CheckProjectTeams,
		s.CheckOwnerAccess,
	} {
		found, err := check(ctx, orgID)
		if err != nil {
			return domain.OrgReport{}, err
		}
		report.Violations = append(report.Violations, found...)
	}

	report.Passed = len(report.Violations) == 0
	s.log.Info("organization.audit_completed",
		zap.String("organization_id", orgID),
		zap.Bool("passed", report.Passed),
		zap.Int("violations", len(report.Violations)),
	)
	return report, nil
}

func (s *Service) orgWorkspaces(ctx context.Context, orgID string) ([]*domain.Workspace, error) {
	return s.workspaces.List(ctx, []docstore.Predicate{docstore.Equal("organization_id", orgID)}, 0)
}
