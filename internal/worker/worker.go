// Package worker runs the background side of budgetly: seeding new
// categories into monthly documents and exporting transactions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetly/internal/amqp"
	"budgetly/internal/core"
	"budgetly/internal/log"
	"budgetly/internal/services"
	"budgetly/internal/sheets"
	"budgetly/internal/store"
)

// Consumer feeds events to a handler until ctx ends.
type Consumer interface {
	Consume(ctx context.Context, handler amqp.Handler) error
}

type Options struct {
	// CatchUpInterval is the period of the catch-up pass; zero disables it.
	CatchUpInterval time.Duration
	Now             func() time.Time
	Logger          *log.Logger
}

type Worker struct {
	seeder       *services.Seeder
	categories   store.CategoryStore
	transactions store.TransactionStore
	exporter     sheets.TransactionExporter
	opts         Options
	logger       *log.Logger
}

// New builds a worker. exporter may be nil, in which case transaction
// events are acknowledged without export.
func New(seeder *services.Seeder, categories store.CategoryStore, transactions store.TransactionStore, exporter sheets.TransactionExporter, opts Options) *Worker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Worker{
		seeder:       seeder,
		categories:   categories,
		transactions: transactions,
		exporter:     exporter,
		opts:         opts,
		logger:       log.OrDiscard(opts.Logger).WithComponent(log.ComponentWorker),
	}
}

// HandleEvent processes one event. Only failures worth a redelivery are
// returned: an unreachable store or spreadsheet. Documents that fail to
// seed are tallied and left to the catch-up pass.
func (w *Worker) HandleEvent(ctx context.Context, e amqp.Event) error {
	switch e.Type {
	case amqp.EventCategoryCreated:
		c := e.Category
		res := w.seeder.Seed(ctx, core.CategoryEntry{ID: c.ID, Name: c.Name})
		if res.ListError != "" {
			return fmt.Errorf("seed %q: %s", c.Name, res.ListError)
		}
		if res.Failed > 0 {
			w.logger.WarnContext(ctx, "Seeding left documents behind",
				log.FieldOperation, log.OpSeed, log.FieldCategory, c.Name, "failed", res.Failed)
		}
		return nil
	case amqp.EventTransactionCreated:
		if w.exporter == nil {
			return nil
		}
		if _, err := w.exporter.Append(ctx, *e.Transaction); err != nil {
			return fmt.Errorf("export transaction %s: %w", e.Transaction.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", amqp.ErrUnknownEvent, e.Type)
	}
}

// CatchUp repairs what lost events left behind: every active category is
// seeded again and the current month's transactions are exported again.
// Both steps are idempotent and run concurrently.
func (w *Worker) CatchUp(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.reseed(ctx) })
	if w.exporter != nil {
		g.Go(func() error { return w.reexport(ctx, core.CurrentMonth(w.opts.Now())) })
	}
	return g.Wait()
}

func (w *Worker) reseed(ctx context.Context) error {
	page, err := w.categories.ListCategories(ctx, store.Query{Sort: "id", Order: store.Asc})
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	seeded, failed := 0, 0
	for _, c := range page.Items {
		if !c.IsActive() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res := w.seeder.Seed(ctx, core.CategoryEntry{ID: c.ID, Name: c.Name})
		seeded += res.Seeded
		failed += res.Failed
	}
	w.logger.InfoContext(ctx, "Seeding catch-up finished",
		log.FieldOperation, log.OpSeed, "seeded", seeded, "failed", failed)
	return nil
}

func (w *Worker) reexport(ctx context.Context, month string) error {
	page, err := w.transactions.ListTransactions(ctx, store.Query{}.Where("month", month))
	if err != nil {
		return fmt.Errorf("list transactions of %s: %w", month, err)
	}
	exported, failed := 0, 0
	for _, t := range page.Items {
		if _, err := w.exporter.Append(ctx, t); err != nil {
			failed++
			w.logger.WarnContext(ctx, "Export catch-up failed",
				log.FieldOperation, log.OpExport, log.FieldDocumentID, t.ID.String(), log.FieldError, err)
			continue
		}
		exported++
	}
	w.logger.InfoContext(ctx, "Export catch-up finished",
		log.FieldOperation, log.OpExport, log.FieldMonth, month, "exported", exported, "failed", failed)
	return nil
}

// Run consumes events and, when configured, repeats the catch-up pass
// until ctx ends or the consumer gives up.
func (w *Worker) Run(ctx context.Context, consumer Consumer) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Consume(ctx, w.HandleEvent)
	})
	if w.opts.CatchUpInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(w.opts.CatchUpInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := w.CatchUp(ctx); err != nil && ctx.Err() == nil {
						w.logger.ErrorContext(ctx, "Catch-up failed", log.FieldError, err)
					}
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
