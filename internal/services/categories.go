package services

import (
	"context"
	"fmt"

	"budgetly/internal/core"
	"budgetly/internal/log"
	"budgetly/internal/store"
)

// CategoryService manages the global category catalogue.
type CategoryService struct {
	store     store.CategoryStore
	seeder    *Seeder
	publisher Publisher
	logger    *log.Logger
}

func NewCategoryService(st store.CategoryStore, seeder *Seeder, publisher Publisher, logger *log.Logger) *CategoryService {
	return &CategoryService{
		store:     st,
		seeder:    seeder,
		publisher: publisher,
		logger:    log.OrDiscard(logger).WithComponent(log.ComponentApp),
	}
}

func (s *CategoryService) List(ctx context.Context, q store.Query) (store.Page[core.Category], error) {
	page, err := s.store.ListCategories(ctx, q)
	if err != nil {
		return store.Page[core.Category]{}, fmt.Errorf("list categories: %w", err)
	}
	return page, nil
}

func (s *CategoryService) Get(ctx context.Context, id core.ID) (core.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return core.Category{}, fmt.Errorf("get category %s: %w", id, err)
	}
	return c, nil
}

// Create stores a new active category and copies it into every monthly
// document. With a publisher the copy is left to the worker; when there is
// none, or publishing fails, it runs inline and its tally is returned.
func (s *CategoryService) Create(ctx context.Context, c core.Category) (core.Category, *SeedResult, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, nil, err
	}
	c.ID = ""
	c.Active = core.Bool(true)
	created, err := s.store.CreateCategory(ctx, c)
	if err != nil {
		return core.Category{}, nil, fmt.Errorf("create category: %w", err)
	}
	s.logger.InfoContext(ctx, "Category created",
		log.FieldCategory, created.Name, log.FieldDocumentID, created.ID.String())

	if s.publisher != nil {
		err := s.publisher.PublishCategoryCreated(ctx, created)
		if err == nil {
			return created, nil, nil
		}
		s.logger.ErrorContext(ctx, "Failed to publish category event, seeding inline",
			log.FieldCategory, created.Name, log.FieldError, err)
	}
	if s.seeder == nil {
		return created, nil, nil
	}
	res := s.seeder.Seed(ctx, core.CategoryEntry{ID: created.ID, Name: created.Name})
	return created, &res, nil
}

// Update replaces name and image. A missing active flag keeps the stored one.
func (s *CategoryService) Update(ctx context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	if c.Active == nil {
		current, err := s.store.GetCategory(ctx, c.ID)
		if err != nil {
			return core.Category{}, fmt.Errorf("get category %s: %w", c.ID, err)
		}
		c.Active = core.Bool(current.IsActive())
	}
	updated, err := s.store.UpdateCategory(ctx, c)
	if err != nil {
		return core.Category{}, fmt.Errorf("update category %s: %w", c.ID, err)
	}
	return updated, nil
}

func (s *CategoryService) SetActive(ctx context.Context, id core.ID, active bool) (core.Category, error) {
	c, err := s.store.SetCategoryActive(ctx, id, active)
	if err != nil {
		return core.Category{}, fmt.Errorf("set category %s active=%t: %w", id, active, err)
	}
	return c, nil
}

// Active lists the categories offered in selects, newest first. Records
// without an active flag count as active.
func (s *CategoryService) Active(ctx context.Context) ([]core.Category, error) {
	page, err := s.store.ListCategories(ctx, store.Query{Sort: "id", Order: store.Desc})
	if err != nil {
		return nil, fmt.Errorf("list active categories: %w", err)
	}
	out := make([]core.Category, 0, len(page.Items))
	for _, c := range page.Items {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	return out, nil
}
