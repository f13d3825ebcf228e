package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// ListRules returns every stored custom rule, active or not.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	rules, err := h.repo.ListRules(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	if rules == nil {
		rules = []*domain.CustomRule{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rules,
		"count":  len(rules),
		"loaded": h.detector.Scorer().Snapshot().Len(),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	rule, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.ruleError(w, "failed to get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule stores a new custom rule and applies it immediately.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireRepo(w) {
		return
	}

	req := bindAndValidate[RuleRequest](w, r)
	if req == nil {
		return
	}
	rule, err := req.Rule()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.CreateRule(ctx, rule); err != nil {
		h.ruleError(w, "failed to create rule", err)
		return
	}
	h.reload(r)

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule replaces an existing custom rule and applies it immediately.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if !h.requireRepo(w) {
		return
	}

	existing, err := h.repo.GetRule(ctx, ruleID)
	if err != nil {
		h.ruleError(w, "failed to get rule", err)
		return
	}

	req := bindAndValidate[RuleRequest](w, r)
	if req == nil {
		return
	}
	rule, err := req.Rule()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt

	if err := h.repo.UpdateRule(ctx, rule); err != nil {
		h.ruleError(w, "failed to update rule", err)
		return
	}
	h.reload(r)

	slog.Info("rule updated", "id", rule.ID, "active", rule.Active)
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a custom rule and applies the change immediately.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if !h.requireRepo(w) {
		return
	}

	if err := h.repo.DeleteRule(r.Context(), ruleID); err != nil {
		h.ruleError(w, "failed to delete rule", err)
		return
	}
	h.reload(r)

	slog.Info("rule deleted", "id", ruleID)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules reloads the active rules from the database into the scorer.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	count, err := h.detector.ReloadRules(r.Context())
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// reload applies rule changes; the write already succeeded, so failures
// are only logged and the next request retries through the cache TTL.
func (h *Handler) reload(r *http.Request) {
	if _, err := h.detector.ReloadRules(r.Context()); err != nil {
		slog.Error("failed to apply rule change", "error", err)
	}
}

func (h *Handler) ruleError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "rule not found")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "a rule with this name already exists")
	default:
		slog.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}
