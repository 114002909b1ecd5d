package http

import (
	"net/http"
	"strconv"
	"strings"

	"budgetly/internal/core"
	"budgetly/internal/listing"
	"budgetly/internal/log"
	"budgetly/internal/store"
)

type historyBody struct {
	Month        string                          `json:"month"`
	Months       []string                        `json:"months"`
	Categories   []string                        `json:"categories"`
	Sort         string                          `json:"sort"`
	Transactions listing.State[core.Transaction] `json:"transactions"`
}

// parseSortOrder accepts asc, desc or empty (store order).
func parseSortOrder(v string) (string, bool) {
	switch v = strings.ToLower(strings.TrimSpace(v)); v {
	case "", store.Asc, store.Desc:
		return v, true
	default:
		return "", false
	}
}

// handleHistory serves the history page: month and category options plus
// one page of the month's transactions, searchable over category and note
// and sortable by amount.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, u := signedInUser(r)
	ctx := r.Context()
	query := r.URL.Query()

	month, err := ParseMonthParam(query, s.opts.Now())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	order, ok := parseSortOrder(query.Get("sort"))
	if !ok {
		FieldErrorResponse(http.StatusUnprocessableEntity,
			core.FieldErrors{"sort": "Sort must be asc or desc."}).Write(w)
		return
	}

	months, err := s.deps.Transactions.Months(ctx, u.ID)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	categories, err := s.deps.Transactions.Categories(ctx, u.ID, month)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}

	v := s.historyView(sess, u.ID, month)
	v.mu.Lock()
	monthChanged := v.month != month
	v.month = month
	sortChanged := query.Has("sort") && v.order != order
	if query.Has("sort") {
		v.order = order
	}
	current := v.order
	v.mu.Unlock()

	var loadErr error
	loaded := false
	if monthChanged {
		loadErr = v.list.SetFilter(ctx, "month", month)
		loaded = true
	}
	if sortChanged {
		field := "amount"
		if current == "" {
			field = ""
		}
		loadErr = v.list.SetSort(ctx, field, current)
		loaded = true
	}
	if err := refreshList(ctx, v.list, ParseListParams(query), loaded); err != nil {
		loadErr = err
	}

	writeListState(w, r, "history", historyBody{
		Month:        month,
		Months:       months,
		Categories:   categories,
		Sort:         current,
		Transactions: v.list.State(),
	}, loadErr)
}

type transactionInput struct {
	Category string               `json:"category"`
	Amount   Amount               `json:"amount"`
	Note     string               `json:"note"`
	Month    string               `json:"month"`
	Type     core.TransactionType `json:"type"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	sess, u := signedInUser(r)
	var in transactionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	// An unparsable amount stays zero and is reported by validation.
	amount, _ := in.Amount.Value("amount")
	created, err := s.deps.Transactions.Create(r.Context(), u.ID, core.Transaction{
		Category: sanitizeInput(in.Category),
		Amount:   amount,
		Note:     sanitizeInput(in.Note),
		Month:    strings.TrimSpace(in.Month),
		Type:     in.Type,
	})
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}

	v := s.historyView(sess, u.ID, created.Month)
	loadErr := v.list.Load(r.Context())
	if loadErr != nil {
		logFailure(r, log.OpList, http.StatusBadGateway, loadErr)
	}
	NewJSONResponse().Status(http.StatusCreated).Body(map[string]any{
		"transaction":  created,
		"transactions": v.list.State(),
	}).Write(w)
}

// handleDeleteTransaction requires confirm=true, the API form of the
// confirmation dialog.
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	sess, u := signedInUser(r)
	id, ok := pathID(r)
	if !ok {
		BadRequestError("Missing transaction id.").Write(w)
		return
	}
	if confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirmed {
		BadRequestError("Deleting a transaction must be confirmed with confirm=true.").Write(w)
		return
	}
	if err := s.deps.Transactions.Delete(r.Context(), u.ID, id); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction deleted",
		log.FieldUserID, u.ID.String(), log.FieldDocumentID, id.String())

	v := s.historyView(sess, u.ID, core.CurrentMonth(s.opts.Now()))
	if err := v.list.Remove(r.Context(), id); err != nil {
		logFailure(r, log.OpList, http.StatusBadGateway, err)
	}
	NewJSONResponse().Body(map[string]any{"transactions": v.list.State()}).Write(w)
}
