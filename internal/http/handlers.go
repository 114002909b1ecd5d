package http

import (
	"context"
	"errors"
	"net/http"

	"budgetly/internal/listing"
)

// refreshList applies the list parameters of a request to a session list.
// A search term goes through the debounce unless flush is set. loaded
// tells whether the caller already fetched for this request.
func refreshList[T any](ctx context.Context, list *listing.Controller[T], p ListParams, loaded bool) error {
	if p.Search != nil {
		list.SetSearch(*p.Search)
	}
	var err error
	if p.Flush && list.HasPendingSearch() {
		err = list.FlushSearch(ctx)
		loaded = true
	}
	switch {
	case p.Page > 0:
		err = list.SetPage(ctx, p.Page)
	case !loaded:
		err = list.Load(ctx)
	}
	if p.Settle {
		if serr := list.Settle(ctx); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// writeListState answers with body and the status matching loadErr. A
// failed load still returns the list, whose banner carries the error and
// whose previous items are kept.
func writeListState(w http.ResponseWriter, r *http.Request, op string, body any, loadErr error) {
	code := http.StatusOK
	if loadErr != nil && !errors.Is(loadErr, context.Canceled) {
		code, _, _ = classify(loadErr)
		logFailure(r, op, code, loadErr)
	}
	NewJSONResponse().Status(code).Body(body).Write(w)
}
