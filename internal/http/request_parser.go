// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request
// data: JSON and form bodies, month selection and list parameters.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"budgetly/internal/core"
)

// maxBodyBytes bounds JSON and form bodies. Multipart category uploads
// have their own limit.
const maxBodyBytes = 1 << 20

var (
	errBodyTooLarge  = errors.New("request body too large")
	errMalformedBody = errors.New("malformed request body")
)

// ParseMonthParam returns the requested month as "YYYY-MM". It accepts
// month=YYYY-MM or a numeric month with an optional year; anything missing
// falls back to the month of now.
func ParseMonthParam(query url.Values, now time.Time) (string, error) {
	v := strings.TrimSpace(query.Get("month"))
	if v == "" {
		return core.CurrentMonth(now), nil
	}
	if strings.Contains(v, "-") {
		if _, err := core.ParseMonth(v); err != nil {
			return "", err
		}
		return v, nil
	}
	m, err := strconv.Atoi(v)
	if err != nil || m < 1 || m > 12 {
		return "", fmt.Errorf("month %q: %w", v, core.ErrInvalidMonth)
	}
	year := now.Year()
	if y := strings.TrimSpace(query.Get("year")); y != "" {
		if year, err = strconv.Atoi(y); err != nil || year < 1 {
			return "", fmt.Errorf("year %q: %w", y, core.ErrInvalidMonth)
		}
	}
	return fmt.Sprintf("%04d-%02d", year, m), nil
}

// ListParams are the query parameters shared by the paged list endpoints.
type ListParams struct {
	// Page is zero when the request does not ask for a page.
	Page int
	// Search is set only when the parameter is present; an empty value
	// clears the term.
	Search *string
	Flush  bool
	// Settle waits for a debounced search to land before answering.
	Settle bool
}

func ParseListParams(query url.Values) ListParams {
	var p ListParams
	if v := strings.TrimSpace(query.Get("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Page = n
		}
	}
	if query.Has("search") {
		term := sanitizeInput(query.Get("search"))
		p.Search = &term
	}
	p.Flush, _ = strconv.ParseBool(query.Get("flush"))
	p.Settle, _ = strconv.ParseBool(query.Get("settle"))
	return p
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return errBodyTooLarge
		}
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}

// Amount accepts a JSON number or a string such as "1.500.000". Strings
// are cleaned like the amount inputs: non-digits are dropped.
type Amount struct {
	raw string
	set bool
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Amount{}
		return nil
	}
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		s = n.String()
		if strings.HasPrefix(s, "-") {
			return core.ErrInvalidAmount
		}
	}
	*a = Amount{raw: s, set: true}
	return nil
}

func (a Amount) IsSet() bool { return a.set }

// Value parses the amount; an unset or unparsable amount is a field
// error on field.
func (a Amount) Value(field string) (int64, error) {
	if !a.set {
		return 0, core.FieldErrors{field: "Amount is required."}
	}
	v, err := core.ParseAmount(a.raw)
	if err != nil {
		return 0, core.FieldErrors{field: "Amount must be a number."}
	}
	return v, nil
}

// RequestBodyParser reads credential forms sent either as JSON or as
// form-encoded data.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	formData url.Values
	parsed   bool
	err      error
}

// NewRequestBodyParser reads the body once and keeps it for Parse.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.err == nil && len(p.body) > maxBodyBytes {
		p.err = errBodyTooLarge
	}
	return p
}

// Parse decodes the body as JSON when it looks like JSON, as a form
// otherwise.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true
	if p.err != nil {
		return p.err
	}

	body := strings.TrimSpace(string(p.body))
	if body == "" {
		p.formData = url.Values{}
		return nil
	}
	if body[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		return p.err
	}
	if p.formData, p.err = url.ParseQuery(body); p.err != nil {
		p.err = fmt.Errorf("%w: %v", errMalformedBody, p.err)
	}
	return p.err
}

// Get returns a sanitized value. Use GetSecret for passwords, which must
// not be trimmed.
func (p *RequestBodyParser) Get(key string) string {
	return sanitizeInput(p.GetSecret(key))
}

func (p *RequestBodyParser) GetSecret(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return stringValue(val)
		}
		return ""
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
