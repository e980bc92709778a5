/*
auditor.go - Periodic ledger consistency audit

PURPOSE:
  Runs Engine.CheckConsistency for every catalogue product on a fixed
  interval and keeps the latest report per product. A violation means the
  conservation law (total - remaining == sum of depletions) or a trip's
  demand invariant no longer holds; it is logged at error level and
  exported as a gauge. The auditor never repairs anything.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checks each product under that product's lock, one product at a time
  - Keeps the last report per product for GET /api/admin/audit

USAGE:
  auditor := NewConsistencyAuditor(engine, recorder, log)
  auditor.CheckInterval = 10 * time.Minute
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - stock/summary.go: CheckConsistency
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/fuel-ledger/fuel"
	"github.com/warp/fuel-ledger/stock"
)

// AuditRecorder receives audit outcomes. metrics.Metrics implements it.
type AuditRecorder interface {
	Audited(product stock.Product, violations int)
}

// ConsistencyAuditor periodically audits every product's ledger.
type ConsistencyAuditor struct {
	Engine        *stock.Engine
	Recorder      AuditRecorder
	CheckInterval time.Duration
	Enabled       bool

	log     zerolog.Logger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	reports map[stock.Product]*stock.ConsistencyReport
	lastRun time.Time
}

// NewConsistencyAuditor creates an auditor. recorder may be nil.
func NewConsistencyAuditor(engine *stock.Engine, recorder AuditRecorder, log zerolog.Logger) *ConsistencyAuditor {
	return &ConsistencyAuditor{
		Engine:        engine,
		Recorder:      recorder,
		CheckInterval: 10 * time.Minute,
		Enabled:       true,
		log:           log.With().Str("component", "auditor").Logger(),
		reports:       make(map[stock.Product]*stock.ConsistencyReport),
	}
}

// Start begins the periodic audit.
func (a *ConsistencyAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled || a.CheckInterval <= 0 {
		a.log.Info().Msg("auditor disabled, not starting")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.CheckInterval)
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run(a.ticker.C, a.stop)

	a.log.Info().Dur("interval", a.CheckInterval).Msg("auditor started")
}

// Stop stops the auditor and waits for an audit in progress.
func (a *ConsistencyAuditor) Stop() {
	a.mu.Lock()
	if a.ticker == nil {
		a.mu.Unlock()
		return
	}
	a.ticker.Stop()
	a.ticker = nil
	close(a.stop)
	a.mu.Unlock()

	a.wg.Wait()
	a.log.Info().Msg("auditor stopped")
}

func (a *ConsistencyAuditor) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	a.RunNow(ctx)

	for {
		select {
		case <-tick:
			a.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow audits every catalogue product and returns the reports.
func (a *ConsistencyAuditor) RunNow(ctx context.Context) []*stock.ConsistencyReport {
	var out []*stock.ConsistencyReport
	for _, info := range fuel.All() {
		report, err := a.Engine.CheckConsistency(ctx, info.Code)
		if err != nil {
			a.log.Warn().Err(err).Str("product", string(info.Code)).Msg("consistency check failed")
			continue
		}
		if !report.OK() {
			for _, v := range report.Violations {
				a.log.Error().
					Str("product", string(info.Code)).
					Str("kind", string(v.Kind)).
					Str("batch_id", string(v.BatchID)).
					Str("trip_id", string(v.TripID)).
					Msg(v.Detail)
			}
		}
		if a.Recorder != nil {
			a.Recorder.Audited(info.Code, len(report.Violations))
		}
		out = append(out, report)
	}

	a.mu.Lock()
	for _, r := range out {
		a.reports[r.Product] = r
	}
	a.lastRun = time.Now()
	a.mu.Unlock()
	return out
}

// Reports returns the latest report per product, in catalogue order.
func (a *ConsistencyAuditor) Reports() []*stock.ConsistencyReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*stock.ConsistencyReport
	for _, info := range fuel.All() {
		if r, ok := a.reports[info.Code]; ok {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// HANDLERS
// =============================================================================

// AuditStatusDTO is the auditor's latest state.
type AuditStatusDTO struct {
	LastRun string                 `json:"last_run,omitempty"`
	Reports []ConsistencyReportDTO `json:"reports"`
}

func (a *ConsistencyAuditor) status(reports []*stock.ConsistencyReport) AuditStatusDTO {
	a.mu.Lock()
	last := a.lastRun
	a.mu.Unlock()

	dto := AuditStatusDTO{LastRun: formatTime(last), Reports: make([]ConsistencyReportDTO, len(reports))}
	for i, r := range reports {
		dto.Reports[i] = toConsistencyReportDTO(r)
	}
	return dto
}

// GetAudit returns the latest reports without running a check.
func (a *ConsistencyAuditor) GetAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.status(a.Reports()))
}

// TriggerAudit runs an audit immediately.
func (a *ConsistencyAuditor) TriggerAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.status(a.RunNow(r.Context())))
}
