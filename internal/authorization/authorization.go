// Package authorization holds the role capability model for organization
// members, backed by casbin.
package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/billingguard/pkg/docstore/backend"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

const (
	ObjectBilling   = "billing"
	ObjectInvoice   = "invoice"
	ObjectUsage     = "usage"
	ObjectMembers   = "members"
	ObjectWorkspace = "workspace"
	ObjectProject   = "project"
)

const (
	ActionView   = "view"
	ActionManage = "manage"
)

var (
	ErrInvalidSubject      = errors.New("invalid_subject")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrForbidden           = errors.New("forbidden")
)

// Capability is one object/action pair.
type Capability struct {
	Object string `json:"object"`
	Action string `json:"action"`
}

func (c Capability) String() string { return c.Object + "." + c.Action }

// OwnerCapabilities is what an organization owner must always be able to do.
var OwnerCapabilities = []Capability{
	{ObjectBilling, ActionView},
	{ObjectBilling, ActionManage},
	{ObjectInvoice, ActionView},
	{ObjectInvoice, ActionManage},
	{ObjectUsage, ActionView},
	{ObjectMembers, ActionView},
	{ObjectMembers, ActionManage},
	{ObjectWorkspace, ActionView},
	{ObjectWorkspace, ActionManage},
	{ObjectProject, ActionView},
	{ObjectProject, ActionManage},
}

type Service interface {
	Authorize(ctx context.Context, subject, orgID, role, object, action string) error
	// MissingCapabilities returns the entries of required that role cannot
	// perform in orgID.
	MissingCapabilities(ctx context.Context, subject, orgID, role string, required []Capability) ([]Capability, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer persists policies through the gorm adapter on the SQL backend
// and keeps them in memory otherwise.
func NewEnforcer(store *backend.Backend) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	var enforcer *casbin.SyncedEnforcer
	if store != nil && store.DB() != nil {
		adapter, err := gormadapter.NewAdapterByDB(store.DB())
		if err != nil {
			return nil, err
		}
		if enforcer, err = casbin.NewSyncedEnforcer(m, adapter); err != nil {
			return nil, err
		}
		enforcer.EnableAutoSave(true)
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	} else if enforcer, err = casbin.NewSyncedEnforcer(m); err != nil {
		return nil, err
	}

	enforcer.EnableAutoBuildRoleLinks(true)
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, subject, orgID, role, object, action string) error {
	missing, err := s.MissingCapabilities(ctx, subject, orgID, role, []Capability{{Object: object, Action: action}})
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		s.log.Info("authorization.denied",
			zap.String("subject", subject),
			zap.String("org_id", orgID),
			zap.String("role", role),
			zap.String("capability", missing[0].String()),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) MissingCapabilities(ctx context.Context, subject, orgID, role string, required []Capability) ([]Capability, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, ErrInvalidSubject
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, ErrInvalidOrganization
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, ErrInvalidRole
	}

	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(subject, RoleName(role), domain); err != nil {
		return nil, err
	}

	var missing []Capability
	for _, c := range required {
		allowed, err := s.enforcer.Enforce(subject, domain, c.Object, c.Action)
		if err != nil {
			return nil, err
		}
		if !allowed {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

// ensureGrouping binds subject to exactly one role inside domain.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

// RoleName maps a member role onto its casbin role.
func RoleName(role string) string {
	return "role:" + strings.ToLower(strings.TrimSpace(role))
}

// Subject is the casbin subject for a user.
func Subject(userID string) string {
	return "user:" + strings.TrimSpace(userID)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Member permissions (read-only)
		{"role:member", ObjectWorkspace, ActionView},
		{"role:member", ObjectProject, ActionView},
		{"role:member", ObjectUsage, ActionView},

		{"role:developer", ObjectWorkspace, ActionView},
		{"role:developer", ObjectProject, ActionView},
		{"role:developer", ObjectProject, ActionManage},
		{"role:developer", ObjectUsage, ActionView},

		{"role:finops", ObjectBilling, ActionView},
		{"role:finops", ObjectInvoice, ActionView},
		{"role:finops", ObjectInvoice, ActionManage},
		{"role:finops", ObjectUsage, ActionView},

		{"role:admin", ObjectBilling, ActionView},
		{"role:admin", ObjectInvoice, ActionView},
		{"role:admin", ObjectUsage, ActionView},
		{"role:admin", ObjectMembers, ActionView},
		{"role:admin", ObjectMembers, ActionManage},
		{"role:admin", ObjectWorkspace, ActionView},
		{"role:admin", ObjectWorkspace, ActionManage},
		{"role:admin", ObjectProject, ActionView},
		{"role:admin", ObjectProject, ActionManage},
	}
	for _, c := range OwnerCapabilities {
		policies = append(policies, []string{"role:owner", c.Object, c.Action})
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
