// Package domain contains persistence models for organizations, workspaces
// and project teams.
package domain

import "time"

// Organization represents a tenant that can own workspaces and a billing account.
type Organization struct {
	ID        string    `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	Name      string    `gorm:"type:text;not null" firestore:"name" json:"name"`
	CreatedAt time.Time `gorm:"not null" firestore:"created_at" json:"created_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

func (o Organization) DocumentID() string { return o.ID }

// OrganizationMember represents membership of a user in an organization.
type OrganizationMember struct {
	ID        string    `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	OrgID     string    `gorm:"type:text;not null;index;uniqueIndex:ux_org_user,priority:1" firestore:"org_id" json:"org_id"`
	UserID    string    `gorm:"type:text;not null;index;uniqueIndex:ux_org_user,priority:2" firestore:"user_id" json:"user_id"`
	Role      string    `gorm:"type:text;not null" firestore:"role" json:"role"`
	CreatedAt time.Time `gorm:"not null" firestore:"created_at" json:"created_at"`
}

// TableName sets the database table name.
func (OrganizationMember) TableName() string { return "organization_members" }

func (m OrganizationMember) DocumentID() string { return m.ID }

// Workspace belongs either to an organization or, when OrganizationID is
// empty, personally to UserID.
type Workspace struct {
	ID             string    `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	Name           string    `gorm:"type:text;not null" firestore:"name" json:"name"`
	OrganizationID string    `gorm:"type:text;index" firestore:"organization_id" json:"organization_id,omitempty"`
	UserID         string    `gorm:"type:text;index" firestore:"user_id" json:"user_id,omitempty"`
	CreatedAt      time.Time `gorm:"not null" firestore:"created_at" json:"created_at"`
}

// TableName sets the database table name.
func (Workspace) TableName() string { return "workspaces" }

func (w Workspace) DocumentID() string { return w.ID }

func (w Workspace) IsOrganizationOwned() bool { return w.OrganizationID != "" }

// WorkspaceMember links a user to a workspace. For organization workspaces
// OrgMemberID references the backing organization membership.
type WorkspaceMember struct {
	ID          string    `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	WorkspaceID string    `gorm:"type:text;not null;index" firestore:"workspace_id" json:"workspace_id"`
	UserID      string    `gorm:"type:text;not null;index" firestore:"user_id" json:"user_id"`
	OrgMemberID string    `gorm:"type:text;index" firestore:"org_member_id" json:"org_member_id,omitempty"`
	Role        string    `gorm:"type:text;not null" firestore:"role" json:"role"`
	CreatedAt   time.Time `gorm:"not null" firestore:"created_at" json:"created_at"`
}

// TableName sets the database table name.
func (WorkspaceMember) TableName() string { return "workspace_members" }

func (m WorkspaceMember) DocumentID() string { return m.ID }

type Project struct {
	ID          string    `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	WorkspaceID string    `gorm:"type:text;not null;index" firestore:"workspace_id" json:"workspace_id"`
	Name        string    `gorm:"type:text;not null" firestore:"name" json:"name"`
	CreatedAt   time.Time `gorm:"not null" firestore:"created_at" json:"created_at"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

func (p Project) DocumentID() string { return p.ID }

type ProjectTeam struct {
	ID        string    `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	ProjectID string    `gorm:"type:text;not null;index" firestore:"project_id" json:"project_id"`
	Name      string    `gorm:"type:text;not null" firestore:"name" json:"name"`
	CreatedAt time.Time `gorm:"not null" firestore:"created_at" json:"created_at"`
}

// TableName sets the database table name.
func (ProjectTeam) TableName() string { return "project_teams" }

func (t ProjectTeam) DocumentID() string { return t.ID }

// ProjectTeamMember places a workspace member on a project team. ProjectID is
// denormalized from the team so boundary checks need a single read.
type ProjectTeamMember struct {
	ID                string    `gorm:"primaryKey;type:text" firestore:"id" json:"id"`
	TeamID            string    `gorm:"type:text;not null;index" firestore:"team_id" json:"team_id"`
	ProjectID         string    `gorm:"type:text;not null;index" firestore:"project_id" json:"project_id"`
	WorkspaceMemberID string    `gorm:"type:text;not null;index" firestore:"workspace_member_id" json:"workspace_member_id"`
	CreatedAt         time.Time `gorm:"not null" firestore:"created_at" json:"created_at"`
}

// TableName sets the database table name.
func (ProjectTeamMember) TableName() string { return "project_team_members" }

func (m ProjectTeamMember) DocumentID() string { return m.ID }
