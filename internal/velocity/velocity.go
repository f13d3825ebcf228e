// Package velocity provides payer transaction velocity calculation.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultWindow is used when no window is configured.
const DefaultWindow = time.Hour

// ErrNoDataSource is returned when neither a cache nor a repository is wired.
var ErrNoDataSource = errors.New("no velocity data source available")

// Service counts transactions per payer within a sliding window.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
}

// NewService creates a new velocity service. Either collaborator may be nil.
func NewService(repo domain.Repository, cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		window: window,
	}
}

// Window returns the configured counting window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Observe records one transaction for the payer and returns how many the
// payer has made in the current window, this one included.
// The cache counter is authoritative; the repository is the fallback.
func (s *Service) Observe(ctx context.Context, payerID string) (int64, error) {
	if payerID == "" {
		return 0, fmt.Errorf("payerID is required")
	}

	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, counterKey(payerID), s.window)
		if err == nil {
			return count, nil
		}
		slog.Warn("velocity counter unavailable, falling back to repository",
			"payer_id", payerID,
			"error", err,
		)
	}

	count, err := s.Count(ctx, payerID)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

// Count returns the number of persisted transactions for the payer within
// the window. It does not record anything.
func (s *Service) Count(ctx context.Context, payerID string) (int64, error) {
	if payerID == "" {
		return 0, fmt.Errorf("payerID is required")
	}
	if s.repo == nil {
		return 0, ErrNoDataSource
	}

	since := time.Now().UTC().Add(-s.window)
	count, err := s.repo.CountPayerTransactions(ctx, payerID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func counterKey(payerID string) string {
	return "velocity:" + payerID
}
