package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"budgetly/internal/core"
	"budgetly/internal/form"
	"budgetly/internal/listing"
	"budgetly/internal/log"
	"budgetly/internal/optimistic"
)

// maxMultipartBytes leaves room for the form fields next to the image.
const maxMultipartBytes = form.MaxImageBytes + 64<<10

// BannerNotOnPage is returned when a toggle names a record the session's
// list is not showing.
const BannerNotOnPage = "Record is not on the current page. Reload the list and try again."

// toggleListBody is an admin list with the rows whose toggle is still in
// flight, so the view can disable them.
type toggleListBody[T any] struct {
	listing.State[T]
	Busy []core.ID `json:"busy"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	v := s.usersView(adminSession(r))
	err := refreshList(r.Context(), v.list, ParseListParams(r.URL.Query()), false)
	writeListState(w, r, "list_users", toggleListBody[core.User]{State: v.list.State(), Busy: v.toggles.Busy()}, err)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	v := s.categoriesView(adminSession(r))
	err := refreshList(r.Context(), v.list, ParseListParams(r.URL.Query()), false)
	writeListState(w, r, "list_categories", toggleListBody[core.Category]{State: v.list.State(), Busy: v.toggles.Busy()}, err)
}

// toggleBody is the answer to an optimistic toggle: the record as it now
// stands and the list after the flip or its rollback.
type toggleBody[T any] struct {
	Item  T                `json:"item"`
	List  listing.State[T] `json:"list"`
	Error string           `json:"error,omitempty"`
}

// serveToggle runs an optimistic flip of record id in list.
func serveToggle[T any](w http.ResponseWriter, r *http.Request, t *optimistic.Toggler, list *listing.Controller[T],
	flip func(T) T, save func(ctx context.Context, next T) error) {
	id, ok := pathID(r)
	if !ok {
		BadRequestError("Missing record id.").Write(w)
		return
	}
	if _, ok := list.Find(id); !ok {
		NotFoundError(BannerNotOnPage).Write(w)
		return
	}
	item, err := optimistic.Toggle(r.Context(), t, list, id, flip, save)
	if err != nil {
		code, banner, _ := classify(err)
		logFailure(r, log.OpToggle, code, err)
		if errors.Is(err, optimistic.ErrInFlight) {
			ErrorResponse(code, banner).Write(w)
			return
		}
		NewJSONResponse().Status(code).
			Body(toggleBody[T]{Item: item, List: list.State(), Error: banner}).
			Write(w)
		return
	}
	NewJSONResponse().Body(toggleBody[T]{Item: item, List: list.State()}).Write(w)
}

func (s *Server) handleToggleUser(w http.ResponseWriter, r *http.Request) {
	v := s.usersView(adminSession(r))
	serveToggle(w, r, v.toggles, v.list,
		func(u core.User) core.User {
			u.Status = core.Bool(!u.IsActive())
			return u
		},
		func(ctx context.Context, next core.User) error {
			_, err := s.deps.Users.SetStatus(ctx, next.ID, next.IsActive())
			return err
		})
}

func (s *Server) handleToggleCategory(w http.ResponseWriter, r *http.Request) {
	v := s.categoriesView(adminSession(r))
	serveToggle(w, r, v.toggles, v.list,
		func(c core.Category) core.Category {
			c.Active = core.Bool(!c.IsActive())
			return c
		},
		func(ctx context.Context, next core.Category) error {
			_, err := s.deps.Categories.SetActive(ctx, next.ID, next.IsActive())
			return err
		})
}

// categoryInput is the category form. Image is a data URI, URL or emoji;
// a multipart upload in the "image" part replaces it.
type categoryInput struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	Active *bool  `json:"active,omitempty"`
}

// parseCategoryInput reads the form as JSON or as multipart/form-data.
// An unreadable image is a field error; the rest of the input is still
// returned so the draft keeps it.
func parseCategoryInput(w http.ResponseWriter, r *http.Request) (categoryInput, error) {
	var in categoryInput
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err := decodeJSON(w, r, &in)
		return in, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBytes)
	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return in, core.FieldErrors{"image": "Image must be at most 2 MiB."}
		}
		return in, fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	in.Name = sanitizeInput(r.FormValue("name"))
	in.Image = sanitizeInput(r.FormValue("image"))

	file, _, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return in, fmt.Errorf("%w: %v", errMalformedBody, err)
	default:
		defer file.Close()
		uri, err := form.ImageDataURI(file)
		if errors.Is(err, form.ErrImageTooLarge) {
			return in, core.FieldErrors{"image": "Image must be at most 2 MiB."}
		}
		if err != nil {
			return in, core.FieldErrors{"image": "Image could not be read."}
		}
		in.Image = uri
	}
	return in, nil
}

// isBodyError reports a body that could not be read at all, as opposed to
// field errors in a readable one.
func isBodyError(err error) bool {
	return errors.Is(err, errMalformedBody) || errors.Is(err, errBodyTooLarge)
}

// modalFailure answers a rejected submit with the modal state, which stays
// open with its inline errors.
func modalFailure(w http.ResponseWriter, r *http.Request, op string, m *form.Modal[core.Category], err error) {
	code, banner, _ := classify(err)
	logFailure(r, op, code, err)
	st := m.State()
	NewJSONResponse().Status(code).Body(map[string]any{
		"error":  banner,
		"errors": st.Errors,
		"form":   st,
	}).Write(w)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	in, err := parseCategoryInput(w, r)
	if isBodyError(err) {
		writeError(w, r, log.OpCreate, err)
		return
	}
	v := s.categoriesView(adminSession(r))
	f := s.categoryForm(v)
	f.OpenAdd(core.Category{})
	f.SetDraft(core.Category{Name: strings.TrimSpace(in.Name), Image: in.Image})
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}

	saved, err := f.Submit(r.Context())
	seed := f.seed
	if err != nil {
		modalFailure(w, r, log.OpCreate, f.Modal, err)
		return
	}
	if seed != nil && !seed.OK() {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Category seeding incomplete",
			log.FieldCategory, saved.Name, "failed", seed.Failed, "list_error", seed.ListError)
	}
	NewJSONResponse().Status(http.StatusCreated).Body(map[string]any{
		"category": saved,
		"seed":     seed,
		"list":     v.list.State(),
	}).Write(w)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		BadRequestError("Missing record id.").Write(w)
		return
	}
	in, err := parseCategoryInput(w, r)
	if isBodyError(err) {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	v := s.categoriesView(adminSession(r))
	current, onPage := v.list.Find(id)
	if !onPage {
		fetched, ferr := s.deps.Categories.Get(r.Context(), id)
		if ferr != nil {
			writeError(w, r, log.OpUpdate, ferr)
			return
		}
		current = fetched
	}
	f := s.categoryForm(v)
	f.OpenEdit(current)
	next := current
	next.Name = strings.TrimSpace(in.Name)
	if in.Image != "" {
		next.Image = in.Image
	}
	if in.Active != nil {
		next.Active = in.Active
	}
	f.SetDraft(next)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}

	saved, err := f.Submit(r.Context())
	if err != nil {
		modalFailure(w, r, log.OpUpdate, f.Modal, err)
		return
	}
	NewJSONResponse().Body(map[string]any{
		"category": saved,
		"list":     v.list.State(),
	}).Write(w)
}
