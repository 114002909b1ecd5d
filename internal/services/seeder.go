package services

import (
	"context"
	"fmt"
	"strings"

	"budgetly/internal/core"
	"budgetly/internal/log"
	"budgetly/internal/store"
)

// SeedResult tallies one seeding run. Errors maps a document id to the
// reason its write failed.
type SeedResult struct {
	Category string             `json:"category"`
	Total    int                `json:"total"`
	Seeded   int                `json:"seeded"`
	Skipped  int                `json:"skipped"`
	Failed   int                `json:"failed"`
	Errors   map[core.ID]string `json:"errors,omitempty"`
	// ListError is set when the documents could not be listed at all.
	ListError string `json:"listError,omitempty"`
}

func (r SeedResult) OK() bool { return r.Failed == 0 && r.ListError == "" }

// Seeder copies a new global category into every monthly document.
type Seeder struct {
	store  store.MonthlyStore
	logger *log.Logger
}

func NewSeeder(st store.MonthlyStore, logger *log.Logger) *Seeder {
	return &Seeder{store: st, logger: log.OrDiscard(logger).WithComponent(log.ComponentSeeder)}
}

// Seed walks every monthly document in order and prepends {id, name, 0}
// where no entry of the same name exists. It is idempotent by name. A
// failed document is logged and counted, never returned, and never stops
// the walk.
func (s *Seeder) Seed(ctx context.Context, category core.CategoryEntry) SeedResult {
	name := strings.TrimSpace(category.Name)
	res := SeedResult{Category: name}
	if name == "" {
		res.ListError = core.ErrEmptyName.Error()
		return res
	}

	page, err := s.store.ListMonthly(ctx, store.Query{Sort: "id", Order: store.Asc})
	if err != nil {
		res.ListError = err.Error()
		s.logger.ErrorContext(ctx, "Seeding aborted, cannot list monthly documents",
			log.FieldCategory, name, log.FieldError, err)
		return res
	}
	res.Total = len(page.Items)

	entry := core.CategoryEntry{ID: category.ID, Name: name, Amount: 0}
	for _, doc := range page.Items {
		if doc.HasCategory(name) {
			res.Skipped++
			continue
		}
		if err := s.seedOne(ctx, doc.ID, entry); err != nil {
			if err == errAlreadySeeded {
				res.Skipped++
				continue
			}
			res.Failed++
			if res.Errors == nil {
				res.Errors = make(map[core.ID]string)
			}
			res.Errors[doc.ID] = err.Error()
			s.logger.WarnContext(ctx, "Seeding a monthly document failed",
				log.NewFields().WithMonthly(doc.ID.String(), doc.UserID.String(), doc.Month).
					WithError(err).ToSlice()...)
			continue
		}
		res.Seeded++
	}

	s.logger.InfoContext(ctx, "Seeding finished",
		log.FieldCategory, name, "total", res.Total, "seeded", res.Seeded,
		"skipped", res.Skipped, "failed", res.Failed)
	return res
}

var errAlreadySeeded = fmt.Errorf("already seeded")

// seedOne re-reads the document so a write landing between the listing
// and now is not overwritten.
func (s *Seeder) seedOne(ctx context.Context, id core.ID, entry core.CategoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fresh, err := s.store.GetMonthly(ctx, id)
	if err != nil {
		return fmt.Errorf("re-fetch: %w", err)
	}
	if fresh.HasCategory(entry.Name) {
		return errAlreadySeeded
	}
	if _, err := s.store.ReplaceMonthly(ctx, fresh.PrependCategory(entry)); err != nil {
		return fmt.Errorf("write back: %w", err)
	}
	return nil
}
