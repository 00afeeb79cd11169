// Package context carries request-scoped correlation fields for logging.
package context

import (
	"context"
	"strings"
)

type (
	requestIDKey        struct{}
	orgIDKey            struct{}
	actorKey            struct{}
	billingAccountIDKey struct{}
	workspaceIDKey      struct{}
)

type actor struct {
	typ string
	id  string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey{}, strings.TrimSpace(orgID))
}

func OrgIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(orgIDKey{}).(string)
	return v
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{typ: strings.TrimSpace(actorType), id: strings.TrimSpace(actorID)})
}

func ActorFromContext(ctx context.Context) (string, string) {
	v, _ := ctx.Value(actorKey{}).(actor)
	return v.typ, v.id
}

// WithBillingAccountID tags the context with the billing account a guard
// resolved, so request and job logs can be joined on it.
func WithBillingAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, billingAccountIDKey{}, strings.TrimSpace(accountID))
}

func BillingAccountIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(billingAccountIDKey{}).(string)
	return v
}

func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, workspaceIDKey{}, strings.TrimSpace(workspaceID))
}

func WorkspaceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(workspaceIDKey{}).(string)
	return v
}
