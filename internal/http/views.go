package http

import (
	"context"
	"sync"

	"budgetly/internal/core"
	"budgetly/internal/form"
	"budgetly/internal/listing"
	"budgetly/internal/optimistic"
	"budgetly/internal/services"
	"budgetly/internal/session"
	"budgetly/internal/store"
)

// Per-session view state. Each view is built on first use and dropped by
// the session when the matching marker is cleared.

type usersView struct {
	list    *listing.Controller[core.User]
	toggles *optimistic.Toggler
}

func (v *usersView) Close() { v.list.Close() }

type categoriesView struct {
	list    *listing.Controller[core.Category]
	toggles *optimistic.Toggler
}

func (v *categoriesView) Close() { v.list.Close() }

// categoryForm is the add/edit modal of one request. Tabs sharing a
// session each submit their own draft and read their own seeding tally.
type categoryForm struct {
	*form.Modal[core.Category]
	seed *services.SeedResult
}

type historyView struct {
	list *listing.Controller[core.Transaction]

	mu    sync.Mutex
	month string
	order string
}

func (v *historyView) Close() { v.list.Close() }

func userKey(u core.User) core.ID               { return u.ID }
func categoryKey(c core.Category) core.ID       { return c.ID }
func transactionKey(t core.Transaction) core.ID { return t.ID }

func (s *Server) listOptions(pageSize int, searchField string, base store.Query) listing.Options {
	return listing.Options{
		PageSize:    pageSize,
		Debounce:    s.opts.Debounce,
		Timeout:     s.opts.RequestTimeout,
		SearchField: searchField,
		Base:        base,
		Logger:      s.logger,
	}
}

func (s *Server) usersView(sess *session.Session) *usersView {
	return session.AdminView(sess, "users", func() *usersView {
		return &usersView{
			list:    listing.New[core.User](s.deps.Users.List, userKey, s.listOptions(s.opts.PageSize, "name", store.Query{})),
			toggles: optimistic.NewToggler(),
		}
	})
}

func (s *Server) categoriesView(sess *session.Session) *categoriesView {
	return session.AdminView(sess, "categories", func() *categoriesView {
		return &categoriesView{
			list:    listing.New[core.Category](s.deps.Categories.List, categoryKey, s.listOptions(s.opts.PageSize, "name", store.Query{})),
			toggles: optimistic.NewToggler(),
		}
	})
}

func (s *Server) categoryForm(v *categoriesView) *categoryForm {
	f := &categoryForm{}
	f.Modal = form.NewModal[core.Category](form.SaverFuncs[core.Category]{
		CreateFunc: func(ctx context.Context, c core.Category) (core.Category, error) {
			created, seed, err := s.deps.Categories.Create(ctx, c)
			f.seed = seed
			return created, err
		},
		UpdateFunc: s.deps.Categories.Update,
	}, core.Category.Validate)
	f.OnSaved = func(ctx context.Context, _ core.Category, _ form.Mode) {
		// A failed refresh lands in the list banner.
		_ = v.list.Load(ctx)
	}
	return f
}

// historyView is keyed by user so a second sign-in on the same session
// never sees the previous user's rows.
func (s *Server) historyView(sess *session.Session, userID core.ID, month string) *historyView {
	return session.UserView(sess, "history:"+userID.String(), func() *historyView {
		base := services.HistoryQuery(userID, month)
		return &historyView{
			list:  listing.New[core.Transaction](s.deps.Transactions.List, transactionKey, s.listOptions(s.opts.HistoryPageSize, "", base)),
			month: month,
		}
	})
}
