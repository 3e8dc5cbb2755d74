// Package collector builds one snapshot of every VM on the account per collection cycle.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/racknerd-exporter/internal/panel"
	"github.com/and161185/racknerd-exporter/internal/parser"
	"github.com/and161185/racknerd-exporter/model"
)

// DefaultConcurrency caps parallel detail requests when no limit is configured.
const DefaultConcurrency = 4

type panelClient interface {
	ListVMs(ctx context.Context) ([]model.VMIdentity, error)
	FetchVMDetail(ctx context.Context, id string) ([]byte, error)
}

// Builder runs collection cycles against the panel.
type Builder struct {
	client      panelClient
	concurrency int
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewBuilder creates a builder that fetches at most concurrency VM details at a time.
func NewBuilder(client panelClient, concurrency int, logger *zap.SugaredLogger) *Builder {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Builder{client: client, concurrency: concurrency, logger: logger, now: time.Now}
}

// Collect runs one cycle. A VM list failure returns an empty snapshot and the error.
// Per-VM failures only mark that VM unavailable. An authentication failure while reading
// details fails the cycle: the returned snapshot lists every VM as unavailable.
func (b *Builder) Collect(ctx context.Context) (model.Snapshot, error) {
	snap := model.Snapshot{StartedAt: b.now()}
	finish := func(err error) (model.Snapshot, error) {
		snap.Duration = b.now().Sub(snap.StartedAt)
		snap.Success = err == nil
		if err != nil {
			snap.Err = err.Error()
		}
		return snap, err
	}

	vms, err := b.client.ListVMs(ctx)
	if err != nil {
		b.logger.Errorw("vm list failed", "error", err)
		return finish(fmt.Errorf("list vms: %w", err))
	}
	b.logger.Debugw("vm list fetched", "count", len(vms))

	snap.Entries = make([]model.Entry, len(vms))
	authErrs := make([]error, len(vms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, vm := range vms {
		i, vm := i, vm
		g.Go(func() error {
			outcome, err := b.collectVM(gctx, vm)
			snap.Entries[i] = model.Entry{VM: vm, Outcome: outcome}
			if err != nil {
				authErrs[i] = err
				// stops the remaining fetches, the cycle is lost anyway
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(authErrs...); err != nil {
		b.logger.Errorw("collection cycle failed", "error", err)
		snap = snap.Unavailable("authentication failed")
		return finish(err)
	}
	return finish(nil)
}

// collectVM returns the outcome for one VM. The error is set only for failures that
// must fail the cycle.
func (b *Builder) collectVM(ctx context.Context, vm model.VMIdentity) (model.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return model.Unavailable("cycle aborted"), nil
	}

	raw, err := b.client.FetchVMDetail(ctx, vm.ID)
	if err != nil {
		if panel.IsAuthError(err) {
			return model.Unavailable("authentication failed"), err
		}
		b.logger.Warnw("vm detail unavailable", "hostname", vm.Hostname, "vm_id", vm.ID, "error", err)
		return model.Unavailable(reason(err)), nil
	}

	stats, err := parser.ParseVMDetail(raw, vm.Kind)
	if err != nil {
		var pe *parser.ParseError
		if errors.As(err, &pe) {
			b.logger.Warnw("vm detail unparsable",
				"hostname", vm.Hostname, "vm_id", vm.ID, "field", pe.Field, "value", pe.Value, "error", pe.Err)
		} else {
			b.logger.Warnw("vm detail unparsable", "hostname", vm.Hostname, "vm_id", vm.ID, "error", err)
		}
		return model.Unavailable(reason(err)), nil
	}
	return model.OK(stats), nil
}

func reason(err error) string {
	var (
		fe *panel.FetchError
		pe *parser.ParseError
	)
	switch {
	case errors.As(err, &pe):
		return "parse error: " + pe.Field
	case errors.Is(err, parser.ErrRejected):
		return "rejected by panel"
	case errors.As(err, &fe) && fe.Retryable:
		return "panel unreachable"
	case errors.As(err, &fe) && fe.Status != 0:
		return fmt.Sprintf("http status %d", fe.Status)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cycle aborted"
	default:
		return "fetch failed"
	}
}
