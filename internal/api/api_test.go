package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/service"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// createTestServer wires a server over a temporary SQLite database.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	scorer, err := scoring.NewScorer(nil, nil)
	if err != nil {
		t.Fatalf("failed to create scorer: %v", err)
	}

	lru := cache.NewLRUCache(100)
	detector := service.NewDetector(scorer, repo,
		service.WithCache(lru),
		service.WithVelocity(velocity.NewService(repo, lru, velocity.DefaultWindow)),
		service.WithThreshold(0.25),
	)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(cfg, detector, repo, lru, nil, "test-v1"), repo
}

func do(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

func lowRisk(id string) map[string]any {
	return map[string]any{
		"transaction_id": id,
		"amount":         "500",
		"payer_id":       "payer-1",
		"payee_id":       "merchant-1",
		"payment_mode":   "debit_card",
		"channel":        "pos",
	}
}

func highRisk(id string) map[string]any {
	return map[string]any{
		"transaction_id": id,
		"amount":         60000,
		"payer_id":       "payer-2",
		"payee_id":       "merchant-2",
		"payment_mode":   "CREDIT_CARD",
		"channel":        "web",
	}
}

func TestDetectEndpoint(t *testing.T) {
	server, repo := createTestServer(t)

	t.Run("LowRisk", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/detect", lowRisk("tx-low"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[DetectResponse](t, rr)
		if resp.TransactionID != "tx-low" {
			t.Errorf("expected tx-low, got %s", resp.TransactionID)
		}
		if resp.IsFraud {
			t.Errorf("expected no fraud, got score %v", resp.CombinedScore)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected trace_id in metadata")
		}
	})

	t.Run("HighRisk", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/detect", highRisk("tx-high"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[DetectResponse](t, rr)
		if !resp.IsFraud {
			t.Errorf("expected fraud, got score %v", resp.CombinedScore)
		}
		if !resp.Diagnostics.FloorApplied {
			t.Error("expected amount floor to apply")
		}
		if len(resp.Reasons) != 3 {
			t.Errorf("expected 3 reasons, got %v", resp.Reasons)
		}

		stored, err := repo.GetTransaction(t.Context(), "tx-high")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if stored.PaymentMode != "credit_card" {
			t.Errorf("expected normalized payment mode, got %s", stored.PaymentMode)
		}
	})

	t.Run("GeneratesTransactionID", func(t *testing.T) {
		body := lowRisk("")
		delete(body, "transaction_id")

		rr := do(t, server, http.MethodPost, "/detect", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if resp := decode[DetectResponse](t, rr); resp.TransactionID == "" {
			t.Error("expected generated transaction_id")
		}
	})

	tests := []struct {
		name    string
		body    any
		wantMsg string
	}{
		{"InvalidJSON", "not-json", "invalid JSON"},
		{"MissingPayer", func() map[string]any {
			b := lowRisk("tx-x")
			delete(b, "payer_id")
			return b
		}(), "payer_id is required"},
		{"ZeroAmount", func() map[string]any {
			b := lowRisk("tx-x")
			b["amount"] = 0
			return b
		}(), "amount must be positive"},
		{"NegativeAmount", func() map[string]any {
			b := lowRisk("tx-x")
			b["amount"] = -10
			return b
		}(), "amount must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, server, http.MethodPost, "/detect", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			resp := decode[map[string]string](t, rr)
			if !strings.Contains(resp["error"], tt.wantMsg) {
				t.Errorf("expected error containing %q, got %q", tt.wantMsg, resp["error"])
			}
		})
	}
}

func TestBatchDetectEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("MixedBatch", func(t *testing.T) {
		bad := lowRisk("tx-bad")
		bad["amount"] = -1

		rr := do(t, server, http.MethodPost, "/batch-detect", map[string]any{
			"transactions": []any{lowRisk("tx-a"), highRisk("tx-b"), bad},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[BatchResponse](t, rr)
		if resp.Total != 3 || resp.Scored != 2 || resp.Failed != 1 {
			t.Errorf("unexpected counts: total=%d scored=%d failed=%d", resp.Total, resp.Scored, resp.Failed)
		}
		if resp.Results["tx-a"].IsFraud {
			t.Error("tx-a should not be fraud")
		}
		if !resp.Results["tx-b"].IsFraud {
			t.Error("tx-b should be fraud")
		}
		if _, ok := resp.Errors["tx-bad"]; !ok {
			t.Errorf("expected error for tx-bad, got %v", resp.Errors)
		}
	})

	t.Run("DuplicateIDs", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/batch-detect", map[string]any{
			"transactions": []any{lowRisk("tx-dup"), lowRisk("tx-dup")},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decode[BatchResponse](t, rr)
		if resp.Scored != 1 || resp.Failed != 1 {
			t.Errorf("expected first copy scored and second failed, got scored=%d failed=%d", resp.Scored, resp.Failed)
		}
		if _, ok := resp.Results["tx-dup"]; !ok {
			t.Errorf("expected result for the first tx-dup, got %v", resp.Results)
		}
		if _, ok := resp.Errors["tx-dup#1"]; !ok {
			t.Errorf("expected error for the second tx-dup, got %v", resp.Errors)
		}
	})

	t.Run("InvalidItemFailsAlone", func(t *testing.T) {
		missingPayer := lowRisk("tx-no-payer")
		delete(missingPayer, "payer_id")
		anonymous := lowRisk("")
		delete(anonymous, "transaction_id")
		delete(anonymous, "channel")

		rr := do(t, server, http.MethodPost, "/batch-detect", map[string]any{
			"transactions": []any{lowRisk("tx-ok"), missingPayer, anonymous},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[BatchResponse](t, rr)
		if resp.Total != 3 || resp.Scored != 1 || resp.Failed != 2 {
			t.Errorf("unexpected counts: total=%d scored=%d failed=%d", resp.Total, resp.Scored, resp.Failed)
		}
		if _, ok := resp.Results["tx-ok"]; !ok {
			t.Errorf("expected tx-ok to be scored, got %v", resp.Errors)
		}
		if msg := resp.Errors["tx-no-payer"]; msg != "payer_id is required" {
			t.Errorf("unexpected error for tx-no-payer: %q", msg)
		}
		if msg := resp.Errors["#2"]; msg != "channel is required" {
			t.Errorf("unexpected error for item #2: %q", msg)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/batch-detect", map[string]any{
			"transactions": []any{},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestReportsAndMetrics(t *testing.T) {
	server, _ := createTestServer(t)

	for _, body := range []map[string]any{lowRisk("tx-1"), highRisk("tx-2"), lowRisk("tx-3")} {
		if rr := do(t, server, http.MethodPost, "/detect", body); rr.Code != http.StatusOK {
			t.Fatalf("detect failed: %d %s", rr.Code, rr.Body.String())
		}
	}

	report := func(id string, fraud bool) *httptest.ResponseRecorder {
		return do(t, server, http.MethodPost, "/report", map[string]any{
			"transaction_id":      id,
			"is_fraud":            fraud,
			"reporting_entity_id": "bank-ops",
		})
	}

	t.Run("CreateReport", func(t *testing.T) {
		rr := report("tx-2", true)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[domain.FraudReport](t, rr)
		if !resp.IsFraudReported || resp.ID == "" {
			t.Errorf("unexpected report: %+v", resp)
		}

		// tx-1 was a miss; tx-3 a correct negative.
		report("tx-1", true)
		report("tx-3", false)
	})

	t.Run("UnknownTransaction", func(t *testing.T) {
		if rr := report("missing", true); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("MissingIsFraud", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/report", map[string]any{
			"transaction_id":      "tx-1",
			"reporting_entity_id": "bank-ops",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ListReports", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/reports?limit=2", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decode[map[string]any](t, rr)
		if resp["count"] != float64(2) {
			t.Errorf("expected 2 reports, got %v", resp["count"])
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/metrics", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		m := decode[domain.Metrics](t, rr)
		want := domain.ConfusionMatrix{TruePositive: 1, FalseNegative: 1, TrueNegative: 1}
		if m.ConfusionMatrix != want {
			t.Errorf("expected %+v, got %+v", want, m.ConfusionMatrix)
		}
		if m.Precision != 1 || m.Recall != 0.5 {
			t.Errorf("unexpected precision/recall: %v/%v", m.Precision, m.Recall)
		}
	})

	t.Run("MetricsBadDate", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/metrics?start_date=yesterday", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MetricsInvertedRange", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/metrics?start_date=2025-02-01&end_date=2025-01-01", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestTransactionEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	do(t, server, http.MethodPost, "/detect", lowRisk("tx-1"))
	do(t, server, http.MethodPost, "/detect", highRisk("tx-2"))

	t.Run("Get", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/transactions/tx-2", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		tx := decode[domain.ScoredTransaction](t, rr)
		if !tx.IsFraudPredicted || tx.Amount != 60000 {
			t.Errorf("unexpected transaction: %+v", tx)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/transactions/nope", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	tests := []struct {
		name  string
		query string
		code  int
		count float64
	}{
		{"All", "", http.StatusOK, 2},
		{"FraudOnly", "?is_fraud=true", http.StatusOK, 1},
		{"ByChannel", "?channel=pos", http.StatusOK, 1},
		{"ByPayer", "?payer_id=payer-2", http.StatusOK, 1},
		{"FutureRange", "?start_date=2999-01-01", http.StatusOK, 0},
		{"Limit", "?limit=1", http.StatusOK, 1},
		{"BadFlag", "?is_fraud=maybe", http.StatusBadRequest, 0},
		{"BadOffset", "?offset=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, server, http.MethodGet, "/transactions"+tt.query, nil)
			if rr.Code != tt.code {
				t.Fatalf("expected status %d, got %d: %s", tt.code, rr.Code, rr.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			if resp := decode[map[string]any](t, rr); resp["count"] != tt.count {
				t.Errorf("expected count %v, got %v", tt.count, resp["count"])
			}
		})
	}
}

func TestRuleEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	posRule := map[string]any{
		"name":      "pos channel",
		"rule_type": "pattern",
		"field":     "channel",
		"operator":  "==",
		"value":     "pos",
		"score":     1,
	}

	var ruleID string

	t.Run("Create", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules", posRule)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		rule := decode[domain.CustomRule](t, rr)
		if rule.ID == "" || !rule.Active {
			t.Errorf("unexpected rule: %+v", rule)
		}
		ruleID = rule.ID
	})

	t.Run("AppliedImmediately", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/detect", lowRisk("tx-rule"))
		resp := decode[DetectResponse](t, rr)
		if !resp.IsFraud || resp.Diagnostics.CustomScore != 1 {
			t.Errorf("expected custom rule to fire, got %+v", resp.Diagnostics)
		}
	})

	t.Run("Conflict", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules", posRule)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rr.Code)
		}
	})

	t.Run("InvalidOperator", func(t *testing.T) {
		bad := map[string]any{
			"name": "bad", "rule_type": "pattern", "field": "channel",
			"operator": "~=", "value": "x", "score": 0.5,
		}
		rr := do(t, server, http.MethodPost, "/rules", bad)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ScoreOutOfRange", func(t *testing.T) {
		bad := map[string]any{
			"name": "bad", "rule_type": "pattern", "field": "channel",
			"operator": "==", "value": "x", "score": 1.5,
		}
		rr := do(t, server, http.MethodPost, "/rules", bad)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GetAndList", func(t *testing.T) {
		if rr := do(t, server, http.MethodGet, "/rules/"+ruleID, nil); rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodGet, "/rules/missing", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}

		rr := do(t, server, http.MethodGet, "/rules", nil)
		resp := decode[map[string]any](t, rr)
		if resp["count"] != float64(1) || resp["loaded"] != float64(1) {
			t.Errorf("unexpected list response: %v", resp)
		}
	})

	t.Run("DeactivateViaUpdate", func(t *testing.T) {
		update := map[string]any{}
		for k, v := range posRule {
			update[k] = v
		}
		update["active"] = false

		rr := do(t, server, http.MethodPut, "/rules/"+ruleID, update)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[DetectResponse](t, do(t, server, http.MethodPost, "/detect", lowRisk("tx-after")))
		if resp.Diagnostics.CustomScore != 0 {
			t.Errorf("inactive rule must not fire, got %v", resp.Diagnostics.CustomScore)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		rr := do(t, server, http.MethodPut, "/rules/missing", posRule)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if resp := decode[map[string]any](t, rr); resp["count"] != float64(0) {
			t.Errorf("expected 0 active rules, got %v", resp["count"])
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if rr := do(t, server, http.MethodDelete, "/rules/"+ruleID, nil); rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodDelete, "/rules/"+ruleID, nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decode[map[string]any](t, rr)
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %v", resp["status"])
		}
		if resp["model_available"] != false {
			t.Error("expected model_available false")
		}
	})

	t.Run("Ready", func(t *testing.T) {
		if rr := do(t, server, http.MethodGet, "/ready", nil); rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Prometheus", func(t *testing.T) {
		do(t, server, http.MethodGet, "/health", nil)
		rr := do(t, server, http.MethodGet, "/metrics/prometheus", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "kestrel_http_requests_total") {
			t.Error("expected kestrel_http_requests_total in scrape output")
		}
	})
}

func TestNoRepository(t *testing.T) {
	scorer, _ := scoring.NewScorer(nil, nil)
	detector := service.NewDetector(scorer, nil)
	server := NewServer(domain.ServerConfig{}, detector, nil, nil, nil, "test-v1")

	rr := do(t, server, http.MethodPost, "/detect", lowRisk("tx-1"))
	if rr.Code != http.StatusOK {
		t.Errorf("detect should work without a repository, got %d", rr.Code)
	}

	for _, path := range []string{"/transactions", "/reports", "/rules", "/metrics"} {
		if rr := do(t, server, http.MethodGet, path, nil); rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected status 503, got %d", path, rr.Code)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidTransaction, http.StatusBadRequest},
		{domain.ErrInvalidRule, http.StatusBadRequest},
		{repository.ErrNotFound, http.StatusNotFound},
		{repository.ErrConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("RequestIDPropagation", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetTraceID(r.Context()) == "" {
				t.Error("expected trace ID in context")
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) != "req-123" {
			t.Errorf("expected request ID req-123, got %s", rr.Header().Get(RequestIDHeader))
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected trace ID header")
		}
	})

	t.Run("TraceparentContinued", func(t *testing.T) {
		prev := otel.GetTextMapPropagator()
		otel.SetTextMapPropagator(propagation.TraceContext{})
		defer otel.SetTextMapPropagator(prev)

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get(TraceIDHeader); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
			t.Errorf("expected upstream trace ID, got %q", got)
		}
	})

	t.Run("Recover", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight must not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/detect", nil)
		req.Header.Set("Origin", "https://dashboard.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "https://dashboard.example" {
			t.Error("expected origin to be echoed")
		}
	})
}
