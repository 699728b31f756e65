package shard

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reportweaver/internal/logging"
	"reportweaver/internal/trace"
)

// Analyzer fills a shard for a unit.
type Analyzer interface {
	Analyze(ctx context.Context, u Unit, s Shard) error
}

// CodeChecker adapts an Executor to Analyzer. Template supplies the fields
// shared by every unit; data directory, sources, log and CTU are set per
// unit.
type CodeChecker struct {
	Executor *Executor
	Template Invocation
}

func (c CodeChecker) Analyze(ctx context.Context, u Unit, s Shard) error {
	inv := c.Template
	inv.DataDir = s.Dir
	inv.Sources = append([]string(nil), u.Sources...)
	inv.LogPath = s.LogPath()
	inv.CTU = u.Kind == WholeProgram
	_, err := c.Executor.Analyze(ctx, inv)
	return err
}

// Result is the outcome of one unit.
type Result struct {
	Unit  Unit
	Shard Shard
	Err   error
}

// Orchestrator runs units concurrently, one shard per unit. A failing unit
// does not stop the others.
type Orchestrator struct {
	Layout   Layout
	Analyzer Analyzer
	// Concurrency bounds parallel units; values below 1 mean 1.
	Concurrency int
	Logger      *zap.Logger
	Trace       trace.Sink
}

// Run analyzes every unit and returns one result per unit in input order.
// The error joins all unit failures. Units that would share a shard are
// rejected before anything runs.
func (o *Orchestrator) Run(ctx context.Context, units []Unit) ([]Result, error) {
	if o.Analyzer == nil {
		return nil, errors.New("orchestrator has no analyzer")
	}
	log := logging.OrNop(o.Logger)

	results := make([]Result, len(units))
	seen := make(map[string]int, len(units))
	for i, u := range units {
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("units[%d]: %w", i, err)
		}
		s := o.Layout.Shard(u)
		if j, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("units[%d] and units[%d] map to the same shard %s", j, i, s.Name)
		}
		seen[s.Name] = i
		results[i] = Result{Unit: u, Shard: s}
	}

	limit := o.Concurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range results {
		r := &results[i]
		g.Go(func() error {
			r.Err = o.runUnit(ctx, log, r.Unit, r.Shard)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("shard %s: %w", r.Shard.Name, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (o *Orchestrator) runUnit(ctx context.Context, log *zap.Logger, u Unit, s Shard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	log.Info("analyzing unit", zap.String("shard", s.Name), zap.Stringer("kind", u.Kind), zap.Int("sources", len(u.Sources)))
	if err := o.Analyzer.Analyze(ctx, u, s); err != nil {
		log.Warn("unit analysis failed", zap.String("shard", s.Name), zap.Error(err))
		trace.SafeRecord(o.Trace, trace.Event{Kind: trace.EventShardFailed, Subject: s.Name, Reason: failureReason(err)})
		return err
	}
	trace.SafeRecord(o.Trace, trace.Event{Kind: trace.EventShardAnalyzed, Subject: s.Name, Reason: u.Kind.String(), Count: len(u.Sources)})
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrAnalyzerFailed):
		return "AnalyzerFailed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	default:
		return "Error"
	}
}
