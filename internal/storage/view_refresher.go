package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/inventory-importer/internal/logging"
)

// DefaultSummaryView is the aggregate view fed by inventory, sales, cost and reorder imports
const DefaultSummaryView = "company_inventory_summary"

// ViewRefresher refreshes materialized views in the background. Requests
// arriving while a refresh is pending are coalesced into one refresh.
type ViewRefresher struct {
	db       DBTX
	views    []string
	debounce time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	started bool
	stopped bool

	signal chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// NewViewRefresher creates a refresher for the given views
func NewViewRefresher(db DBTX, debounce, timeout time.Duration, views ...string) *ViewRefresher {
	if len(views) == 0 {
		views = []string{DefaultSummaryView}
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ViewRefresher{
		db:       db,
		views:    views,
		debounce: debounce,
		timeout:  timeout,
		pending:  make(map[string]struct{}),
		signal:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the refresh loop
func (v *ViewRefresher) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started {
		return fmt.Errorf("view refresher already started")
	}
	v.started = true
	go v.run(ctx)
	return nil
}

// Stop ends the loop and waits for an in-flight refresh to finish
func (v *ViewRefresher) Stop() {
	v.mu.Lock()
	if !v.started || v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	close(v.stopCh)
	v.mu.Unlock()
	<-v.done
}

// Schedule requests a refresh on behalf of a company. It never blocks.
func (v *ViewRefresher) Schedule(companyID string) {
	v.mu.Lock()
	v.pending[companyID] = struct{}{}
	v.mu.Unlock()

	select {
	case v.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of companies waiting for a refresh
func (v *ViewRefresher) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// RefreshNow refreshes every view synchronously
func (v *ViewRefresher) RefreshNow(ctx context.Context) error {
	for _, view := range v.views {
		query := fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s", pgx.Identifier{view}.Sanitize())
		if _, err := v.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to refresh %s: %w", view, err)
		}
	}
	return nil
}

func (v *ViewRefresher) run(ctx context.Context) {
	defer close(v.done)
	logger := logging.GetGlobalLogger().WithField("component", "view_refresher")

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.stopCh:
			return
		case <-v.signal:
		}

		if v.debounce > 0 {
			timer := time.NewTimer(v.debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-v.stopCh:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		companies := v.drain()
		if companies == 0 {
			continue
		}

		refreshCtx, cancel := context.WithTimeout(ctx, v.timeout)
		start := time.Now()
		err := v.RefreshNow(refreshCtx)
		cancel()

		fields := map[string]interface{}{
			"companies":  companies,
			"durationMs": time.Since(start).Milliseconds(),
		}
		if err != nil {
			logger.WithFields(fields).WithError(err).Error("Materialized view refresh failed")
			continue
		}
		logger.WithFields(fields).Info("Materialized views refreshed")
	}
}

func (v *ViewRefresher) drain() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := len(v.pending)
	v.pending = make(map[string]struct{})
	return n
}
