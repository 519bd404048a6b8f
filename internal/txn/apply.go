package txn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.trai.ch/zerr"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/output"
	"github.com/blackwell-systems/conda-self/internal/store"
)

// Linker executes a plan against a prefix. On error it must leave the
// prefix as it found it.
type Linker interface {
	Execute(ctx context.Context, prefix string, plan *Plan) error
}

// Options control a single Apply call.
type Options struct {
	// Quiet suppresses the preview.
	Quiet bool
	// DryRun stops after the preview.
	DryRun bool
	// Command is recorded in the history, e.g. "reset".
	Command string
}

// Result describes an applied (or, for dry runs, planned) transaction.
type Result struct {
	ID     string `json:"id,omitempty"`
	Plan   *Plan  `json:"plan"`
	DryRun bool   `json:"dry_run"`
}

// Applier plans and executes transactions.
type Applier struct {
	Fetcher Fetcher
	Linker  Linker
	// Store records history when set.
	Store  *store.Store
	Out    io.Writer
	Logger *slog.Logger
	Now    func() time.Time
}

// New creates an Applier that prints previews to stdout.
func New(fetcher Fetcher, linker Linker, st *store.Store) *Applier {
	return &Applier{
		Fetcher: fetcher,
		Linker:  linker,
		Store:   st,
		Out:     os.Stdout,
		Logger:  slog.Default(),
		Now:     time.Now,
	}
}

// Plan resolves the packages to install and orders all steps without
// touching the prefix.
func (a *Applier) Plan(ctx context.Context, prefix string, remove []*conda.PackageRecord, install []conda.Specifier) (*Plan, error) {
	links, err := resolve(a.Fetcher, install)
	if err != nil {
		return nil, err
	}
	installed, err := conda.ListInstalled(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return buildPlan(prefix, installed, remove, links)
}

// Apply removes and installs packages in prefix as one transaction.
func (a *Applier) Apply(ctx context.Context, prefix string, remove []*conda.PackageRecord, install []conda.Specifier, opts Options) (*Result, error) {
	plan, err := a.Plan(ctx, prefix, remove, install)
	if err != nil {
		return nil, err
	}

	if !opts.Quiet {
		changes := make([]output.Change, 0, len(plan.Steps))
		for _, s := range plan.Steps {
			changes = append(changes, output.ChangeFor(s.Record, s.Op == Link))
		}
		fmt.Fprint(a.out(), output.RenderTransaction(prefix, changes))
	}
	if opts.DryRun {
		return &Result{Plan: plan, DryRun: true}, nil
	}
	if plan.Empty() {
		return &Result{Plan: plan}, nil
	}
	if a.Linker == nil {
		return nil, fmt.Errorf("no linker configured")
	}

	id := uuid.NewString()
	logger := a.logger().With("transaction", id, "prefix", prefix)
	started := a.now()
	logger.Info("applying transaction", "steps", len(plan.Steps))

	execErr := a.Linker.Execute(ctx, prefix, plan)
	a.record(id, prefix, opts.Command, started, plan, execErr, logger)

	if execErr != nil {
		logger.Error("transaction rolled back", "error", execErr)
		return nil, errors.Join(ErrApplyFailed,
			zerr.With(zerr.Wrap(execErr, "prefix restored"), "transaction", id))
	}
	logger.Info("transaction committed")
	return &Result{ID: id, Plan: plan}, nil
}

func (a *Applier) record(id, prefix, command string, started time.Time, plan *Plan, execErr error, logger *slog.Logger) {
	if a.Store == nil {
		return
	}
	tx := &store.Transaction{
		ID:         id,
		Prefix:     prefix,
		Command:    command,
		StartedAt:  started,
		FinishedAt: a.now(),
		Status:     store.StatusCommitted,
	}
	if execErr != nil {
		tx.Status = store.StatusFailed
		tx.Error = execErr.Error()
	}
	for i, s := range plan.Steps {
		op := store.OpLink
		if s.Op == Unlink {
			op = store.OpUnlink
		}
		tx.Packages = append(tx.Packages, &store.TransactionPackage{
			Position:  i,
			Operation: op,
			Name:      s.Record.Name,
			Version:   s.Record.Version,
			Build:     s.Record.Build,
			Channel:   s.Record.ChannelName(),
		})
	}
	// History is best effort; the prefix is already in its final state.
	if err := a.Store.InsertTransaction(tx); err != nil {
		logger.Warn("failed to record transaction history", "error", err)
	}
}

func (a *Applier) out() io.Writer {
	if a.Out == nil {
		return io.Discard
	}
	return a.Out
}

func (a *Applier) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *Applier) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}
