// Package integrity periodically re-verifies every ledger chain. It reports
// breaks and never repairs them.
package integrity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmerrifield20/clinledger/internal/ledger"
	"go.uber.org/zap"
)

// Config holds auditor configuration.
type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
}

// ChainVerifier is the subset of *ledger.Core the auditor needs.
type ChainVerifier interface {
	Namespaces() []ledger.Namespace
	VerifyChain(ctx context.Context, ns ledger.Namespace) (*ledger.ChainReport, error)
}

// StatusFunc is called after every run. intact is false if any chain is broken
// or could not be read.
type StatusFunc func(intact bool, reports []ledger.ChainReport)

// MetricsRecordFunc is an optional callback for recording per-namespace results.
type MetricsRecordFunc func(ns ledger.Namespace, intact bool)

// Auditor runs periodic chain verification.
type Auditor struct {
	verifier  ChainVerifier
	cfg       Config
	onStatus  StatusFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu      sync.RWMutex
	last    []ledger.ChainReport
	lastRun time.Time
	intact  bool
}

// New creates a new Auditor.
func New(verifier ChainVerifier, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	return &Auditor{verifier: verifier, cfg: cfg, logger: logger, intact: true}
}

// SetStatusListener configures the status callback.
func (a *Auditor) SetStatusListener(fn StatusFunc) {
	a.onStatus = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (a *Auditor) SetMetricsRecord(fn MetricsRecordFunc) {
	a.onMetrics = fn
}

// Start runs one audit immediately and then one per interval until ctx is done.
func (a *Auditor) Start(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		a.RunOnce(runCtx)
		cancel()

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce verifies every registered namespace with bounded concurrency and
// returns the reports sorted by namespace. Namespaces that could not be read
// are logged and omitted.
func (a *Auditor) RunOnce(ctx context.Context) []ledger.ChainReport {
	namespaces := a.verifier.Namespaces()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		reports []ledger.ChainReport
		intact  = true
		sem     = make(chan struct{}, a.cfg.Concurrency)
	)
	for _, ns := range namespaces {
		wg.Add(1)
		go func(ns ledger.Namespace) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			r, err := a.verifier.VerifyChain(ctx, ns)
			if err != nil {
				a.logger.Error("integrity: verify chain", zap.String("namespace", ns.String()), zap.Error(err))
				mu.Lock()
				intact = false
				mu.Unlock()
				return
			}
			if !r.IsValid {
				a.logger.Error("integrity: chain broken",
					zap.String("namespace", ns.String()),
					zap.Int64("first_broken_sequence", *r.FirstBrokenSequence),
					zap.String("break", string(r.Break)),
				)
			}
			if a.onMetrics != nil {
				a.onMetrics(ns, r.IsValid)
			}

			mu.Lock()
			reports = append(reports, *r)
			if !r.IsValid {
				intact = false
			}
			mu.Unlock()
		}(ns)
	}
	wg.Wait()

	sort.Slice(reports, func(i, j int) bool { return reports[i].Namespace < reports[j].Namespace })

	a.mu.Lock()
	wasIntact := a.intact
	a.last = reports
	a.lastRun = time.Now().UTC()
	a.intact = intact
	a.mu.Unlock()

	if wasIntact && !intact {
		a.logger.Warn("integrity: ledger no longer intact")
	} else if !wasIntact && intact {
		a.logger.Info("integrity: ledger intact again")
	}
	if a.onStatus != nil {
		a.onStatus(intact, reports)
	}
	return reports
}

// Last returns the reports of the most recent run, when it finished, and
// whether every chain was intact.
func (a *Auditor) Last() ([]ledger.ChainReport, time.Time, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ledger.ChainReport, len(a.last))
	copy(out, a.last)
	return out, a.lastRun, a.intact
}
