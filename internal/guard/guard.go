// Package guard watches a prefix's conda-meta directory and reports
// changes to installed state, which on a frozen prefix indicate that
// something bypassed the freeze.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/conda-self/internal/conda"
	"github.com/blackwell-systems/conda-self/internal/protect"
)

const eventBuffer = 64

// Guard watches one prefix.
type Guard struct {
	Prefix string
	Logger *slog.Logger

	fsw    *fsnotify.Watcher
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a Guard for prefix, which must be a conda environment.
func New(prefix string) (*Guard, error) {
	if !conda.IsEnvironment(prefix) {
		return nil, fmt.Errorf("%s is not a conda environment", prefix)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Guard{
		Prefix: prefix,
		Logger: slog.Default(),
		fsw:    fsw,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}, nil
}

// Start begins watching. Events are delivered on Events until ctx is done
// or Stop is called.
func (g *Guard) Start(ctx context.Context) error {
	meta := conda.MetaPath(g.Prefix)
	if err := g.fsw.Add(meta); err != nil {
		return fmt.Errorf("failed to watch %s: %w", meta, err)
	}
	g.Logger.Info("watching prefix", "prefix", g.Prefix, "frozen", protect.IsFrozen(g.Prefix))

	g.wg.Add(1)
	go g.run(ctx, meta)
	return nil
}

// Events returns the channel of classified events. It is closed when the
// guard stops.
func (g *Guard) Events() <-chan Event {
	return g.events
}

// Stop closes the watcher and waits for the event loop to exit.
func (g *Guard) Stop() error {
	var err error
	g.once.Do(func() {
		close(g.done)
		err = g.fsw.Close()
		g.wg.Wait()
	})
	return err
}

func (g *Guard) run(ctx context.Context, meta string) {
	defer g.wg.Done()
	defer close(g.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case raw, ok := <-g.fsw.Events:
			if !ok {
				return
			}
			ev, ok := Classify(meta, raw)
			if !ok {
				continue
			}
			g.log(ev)
			select {
			case g.events <- ev:
			case <-ctx.Done():
				return
			case <-g.done:
				return
			}
		case err, ok := <-g.fsw.Errors:
			if !ok {
				return
			}
			g.Logger.Warn("file watcher error", "prefix", g.Prefix, "error", err)
		}
	}
}

func (g *Guard) log(ev Event) {
	frozen := protect.IsFrozen(g.Prefix)
	attrs := []any{"prefix", g.Prefix, "kind", ev.Kind, "path", ev.Path, "frozen", frozen}
	if ev.Package != "" {
		attrs = append(attrs, "package", ev.Package)
	}
	switch {
	case ev.Kind == KindUnfrozen:
		g.Logger.Warn("freeze marker removed", attrs...)
	case frozen && ev.Kind != KindFrozen:
		g.Logger.Warn("frozen prefix modified", attrs...)
	default:
		g.Logger.Info("prefix changed", attrs...)
	}
}
