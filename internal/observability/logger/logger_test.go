package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/billingguard/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDescribeSQL(t *testing.T) {
	tests := []struct {
		sql        string
		op         string
		collection string
	}{
		{`SELECT * FROM "billing_accounts" WHERE id = $1`, "SELECT", "billing_accounts"},
		{"INSERT INTO `usage_events` (`id`) VALUES (?)", "INSERT", "usage_events"},
		{`UPDATE "billing_accounts" SET "status"=$1 WHERE status = $2`, "UPDATE", "billing_accounts"},
		{`DELETE FROM invoices WHERE id = ?`, "DELETE", "invoices"},
		{`WITH x AS (SELECT 1) SELECT * FROM x`, "SELECT", "x"},
		{``, "UNKNOWN", ""},
	}
	for _, tt := range tests {
		op, collection := describeSQL(tt.sql)
		if op != tt.op || collection != tt.collection {
			t.Fatalf("describeSQL(%q) = %q/%q, want %q/%q", tt.sql, op, collection, tt.op, tt.collection)
		}
	}
}

func TestWithContextAddsBillingFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req_1")
	ctx = obscontext.WithBillingAccountID(ctx, "ba_org_org_1")
	ctx = obscontext.WithWorkspaceID(ctx, "ws_1")
	WithContext(ctx, base).Info("usage.write.blocked")

	entry := logs.All()[0].ContextMap()
	if entry["request_id"] != "req_1" || entry["billing_account_id"] != "ba_org_org_1" || entry["workspace_id"] != "ws_1" {
		t.Fatalf("unexpected fields %v", entry)
	}
}

func TestWithContextOmitsUnresolvedAccount(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithContext(context.Background(), zap.New(core)).Info("x")

	entry := logs.All()[0].ContextMap()
	if _, ok := entry["billing_account_id"]; ok {
		t.Fatalf("billing_account_id must be omitted, got %v", entry)
	}
	if _, ok := entry["request_id"]; !ok {
		t.Fatalf("request_id must always be present")
	}
}

func TestGinMiddlewareLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.POST("/api/usage/events", func(c *gin.Context) {
		c.Set(CtxKeyBillingAccountID, "ba_org_org_1")
		c.Status(http.StatusPaymentRequired)
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/usage/events", nil)
	req.Header.Set("X-Request-Id", "req_fixed")
	r.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") != "req_fixed" {
		t.Fatalf("request id must be echoed")
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 request logs, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("blocked usage write should log at warn, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["billing_account_id"] != "ba_org_org_1" {
		t.Fatalf("billing account missing from request log")
	}
	if entries[1].Level != zapcore.DebugLevel {
		t.Fatalf("health checks should log at debug, got %s", entries[1].Level)
	}
}
