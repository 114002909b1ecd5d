package http

import (
	"errors"
	"net/http"

	"budgetly/internal/auth"
	"budgetly/internal/core"
	"budgetly/internal/log"
	"budgetly/internal/store"
)

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	_, u := signedInUser(r)
	profile, err := s.deps.Auth.Profile(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(map[string]any{"user": profile}).Write(w)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess, u := signedInUser(r)
	var in auth.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	saved, err := s.deps.Auth.UpdateProfile(r.Context(), u.ID, in)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	sess.SetUser(saved)
	NewJSONResponse().Body(map[string]any{"user": saved}).Write(w)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	_, u := signedInUser(r)
	var in auth.PasswordInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	if err := s.deps.Auth.ChangePassword(r.Context(), u.ID, in); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Password changed", log.FieldUserID, u.ID.String())
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// budgetBody is the monthly budget page: the document (empty when the
// month has none yet) with its limit total and what is left to assign.
type budgetBody struct {
	Month      string               `json:"month"`
	Exists     bool                 `json:"exists"`
	Document   core.MonthlyDocument `json:"document"`
	LimitTotal int64                `json:"limitTotal"`
	Unassigned int64                `json:"unassigned"`
}

func newBudgetBody(doc core.MonthlyDocument, exists bool) budgetBody {
	if doc.Categories == nil {
		doc.Categories = []core.CategoryEntry{}
	}
	total := doc.LimitTotal()
	return budgetBody{
		Month:      doc.Month,
		Exists:     exists,
		Document:   doc,
		LimitTotal: total,
		Unassigned: doc.Amount - total,
	}
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	_, u := signedInUser(r)
	month, err := ParseMonthParam(r.URL.Query(), s.opts.Now())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	doc, err := s.deps.Monthly.Get(r.Context(), u.ID, month)
	switch {
	case errors.Is(err, store.ErrNotFound):
		NewJSONResponse().Body(newBudgetBody(core.MonthlyDocument{UserID: u.ID, Month: month}, false)).Write(w)
	case err != nil:
		writeError(w, r, log.OpRead, err)
	default:
		NewJSONResponse().Body(newBudgetBody(doc, true)).Write(w)
	}
}

type setBudgetInput struct {
	Month  string `json:"month"`
	Amount Amount `json:"amount"`
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	_, u := signedInUser(r)
	var in setBudgetInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	amount, err := in.Amount.Value("amount")
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	doc, err := s.deps.Monthly.SetAmount(r.Context(), u.ID, in.Month, amount)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(newBudgetBody(doc, true)).Write(w)
}

// limitInput is the category-limit form of the budget page. Budget is
// the monthly amount used when the month has no document yet.
type limitInput struct {
	Month  string `json:"month"`
	Name   string `json:"name"`
	Amount Amount `json:"amount"`
	Budget Amount `json:"budget"`
}

// amounts parses the limit and the optional budget fallback. A missing or
// unparsable limit is left at zero for the entry validation to report.
func (in limitInput) amounts() (limit, budget int64, err error) {
	limit, _ = in.Amount.Value("amount")
	if in.Budget.IsSet() {
		if budget, err = in.Budget.Value("budget"); err != nil {
			return 0, 0, err
		}
	}
	return limit, budget, nil
}

func (s *Server) handleAddLimit(w http.ResponseWriter, r *http.Request) {
	_, u := signedInUser(r)
	var in limitInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	limit, budget, err := in.amounts()
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	doc, err := s.deps.Monthly.AddCategoryLimit(r.Context(), u.ID, in.Month, in.Name, limit, budget)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(newBudgetBody(doc, true)).Write(w)
}

func (s *Server) handleUpdateLimit(w http.ResponseWriter, r *http.Request) {
	_, u := signedInUser(r)
	id, ok := pathID(r)
	if !ok {
		BadRequestError("Missing entry id.").Write(w)
		return
	}
	var in limitInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	limit, _, err := in.amounts()
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	doc, err := s.deps.Monthly.UpdateCategoryLimit(r.Context(), u.ID, in.Month, id, in.Name, limit)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	NewJSONResponse().Body(newBudgetBody(doc, true)).Write(w)
}

func (s *Server) handleRemoveLimit(w http.ResponseWriter, r *http.Request) {
	_, u := signedInUser(r)
	id, ok := pathID(r)
	if !ok {
		BadRequestError("Missing entry id.").Write(w)
		return
	}
	month, err := ParseMonthParam(r.URL.Query(), s.opts.Now())
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	doc, err := s.deps.Monthly.RemoveCategoryLimit(r.Context(), u.ID, month, id)
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Body(newBudgetBody(doc, true)).Write(w)
}

func (s *Server) handleActiveCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.deps.Categories.Active(r.Context())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(map[string]any{"categories": cats}).Write(w)
}
