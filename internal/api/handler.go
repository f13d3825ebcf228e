package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/reporting"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/service"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	detector  *service.Detector
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	reporting *reporting.Service
	version   string
}

// NewHandler creates a new API handler. Repository, cache and bus may be nil.
func NewHandler(detector *service.Detector, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	h := &Handler{
		detector: detector,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		version:  version,
	}
	if repo != nil {
		h.reporting = reporting.NewService(repo)
	}
	return h
}

// DetectResponse is the response for POST /detect.
type DetectResponse struct {
	*domain.ScoringResult
	Metadata ResponseMetadata `json:"metadata"`
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	TraceID string `json:"trace_id"`
	TotalMs int64  `json:"total_ms"`
	Version string `json:"version"`
}

// Detect handles POST /detect requests.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	req := bindAndValidate[TransactionRequest](w, r)
	if req == nil {
		return
	}
	tx, err := req.Transaction()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.detector.Detect(ctx, tx)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, DetectResponse{
		ScoringResult: result,
		Metadata: ResponseMetadata{
			TraceID: GetTraceID(ctx),
			TotalMs: time.Since(start).Milliseconds(),
			Version: h.version,
		},
	})
}

// itemTransaction validates and converts one batch item.
func itemTransaction(item *TransactionRequest) (*domain.Transaction, error) {
	if err := validate.Struct(item); err != nil {
		return nil, errors.New(validationMessage(err))
	}
	return item.Transaction()
}

// BatchResponse is the response for POST /batch-detect.
type BatchResponse struct {
	Results  map[string]domain.ScoringResult `json:"results"`
	Errors   map[string]string               `json:"errors"`
	Total    int                             `json:"total"`
	Scored   int                             `json:"scored"`
	Failed   int                             `json:"failed"`
	Metadata ResponseMetadata                `json:"metadata"`
}

// BatchDetect handles POST /batch-detect requests. Invalid items are
// reported per transaction and do not fail the batch.
func (h *Handler) BatchDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	req := bindAndValidate[BatchRequest](w, r)
	if req == nil {
		return
	}

	txs := make([]*domain.Transaction, len(req.Transactions))
	conversionErrors := make(map[string]string)
	for i := range req.Transactions {
		item := &req.Transactions[i]
		tx, err := itemTransaction(item)
		if err != nil {
			key := item.TransactionID
			if key == "" {
				key = fmt.Sprintf("#%d", i)
			}
			conversionErrors[key] = err.Error()
			continue
		}
		txs[i] = tx
	}

	out := h.detector.DetectBatch(ctx, compact(txs))

	resp := BatchResponse{
		Results: out.Results,
		Errors:  make(map[string]string, len(out.Errors)+len(conversionErrors)),
		Total:   len(req.Transactions),
		Metadata: ResponseMetadata{
			TraceID: GetTraceID(ctx),
			Version: h.version,
		},
	}
	for k, err := range out.Errors {
		resp.Errors[k] = err.Error()
	}
	for k, msg := range conversionErrors {
		resp.Errors[k] = msg
	}
	resp.Scored = len(resp.Results)
	resp.Failed = len(resp.Errors)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()

	writeJSON(w, http.StatusOK, resp)
}

func compact(txs []*domain.Transaction) []*domain.Transaction {
	out := txs[:0:0]
	for _, tx := range txs {
		if tx != nil {
			out = append(out, tx)
		}
	}
	return out
}

// Report handles POST /report: ground truth for a scored transaction.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireRepo(w) {
		return
	}

	req := bindAndValidate[ReportRequest](w, r)
	if req == nil {
		return
	}

	if _, err := h.repo.GetTransaction(ctx, req.TransactionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		slog.Error("failed to get transaction", "id", req.TransactionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load transaction")
		return
	}

	report := &domain.FraudReport{
		TransactionID:   req.TransactionID,
		IsFraudReported: *req.IsFraud,
		ReportingEntity: req.ReportingEntityID,
		Details:         req.FraudDetails,
	}
	if err := h.repo.SaveFraudReport(ctx, report); err != nil {
		slog.Error("failed to save fraud report", "transaction_id", req.TransactionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save report")
		return
	}

	slog.Info("fraud report filed",
		"transaction_id", report.TransactionID,
		"is_fraud", report.IsFraudReported,
		"reporting_entity_id", report.ReportingEntity,
	)
	writeJSON(w, http.StatusCreated, report)
}

// ListReports handles GET /reports.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	offset, limit, err := pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reports, err := h.repo.ListFraudReports(r.Context(), offset, limit)
	if err != nil {
		slog.Error("failed to list fraud reports", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []*domain.FraudReport{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
		"offset":  offset,
	})
}

// ListTransactions handles GET /transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	filter, err := transactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := h.repo.ListTransactions(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []*domain.ScoredTransaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
		"offset":       filter.Offset,
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if !h.requireRepo(w) {
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// Metrics handles GET /metrics: detection quality over an optional range.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	start, err := parseDate(r.URL.Query().Get("start_date"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseDate(r.URL.Query().Get("end_date"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics, err := h.reporting.Metrics(r.Context(), start, end)
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRange) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to compute metrics", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := make(map[string]string)

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			components[name] = err.Error()
			status = "degraded"
			return
		}
		components[name] = "ok"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("event_bus", func() error { return h.bus.Ping(ctx) })
	}

	scorer := h.detector.Scorer()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"version":         h.version,
		"components":      components,
		"model_available": scorer.ModelAvailable(),
		"rules_loaded":    scorer.Snapshot().Len(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ready": false,
				"error": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready": true,
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return false
	}
	return true
}

func transactionFilter(r *http.Request) (domain.TransactionFilter, error) {
	q := r.URL.Query()

	var (
		f   domain.TransactionFilter
		err error
	)
	if f.StartDate, err = parseDate(q.Get("start_date"), false); err != nil {
		return f, err
	}
	if f.EndDate, err = parseDate(q.Get("end_date"), true); err != nil {
		return f, err
	}
	if v := q.Get("is_fraud"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid is_fraud %q", v)
		}
		f.IsFraud = &b
	}
	f.PayerID = q.Get("payer_id")
	f.PayeeID = q.Get("payee_id")
	f.PaymentMode = q.Get("payment_mode")
	f.Channel = q.Get("channel")
	f.Bank = q.Get("bank")

	f.Offset, f.Limit, err = pagination(r)
	return f, err
}

func pagination(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
	}
	return offset, min(limit, repository.MaxLimit), nil
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain end date
// covers the whole day.
func parseDate(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", v)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTransaction), errors.Is(err, domain.ErrInvalidRule):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
