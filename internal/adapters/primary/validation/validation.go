// Package validation decodes request input and collects field errors into
// the VALIDATION_ERROR envelope.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
)

// MaxJSONBodySize bounds every JSON request body.
const MaxJSONBodySize = 1 << 20

// Validatable is implemented by request bodies with field rules.
type Validatable interface {
	Validate() error
}

// Validator chains field checks. Each field keeps every message it failed.
type Validator struct {
	errs *apperrors.ValidationErrors
}

func NewValidator() *Validator {
	return &Validator{errs: apperrors.NewValidationErrors()}
}

func (v *Validator) HasErrors() bool { return v.errs.HasErrors() }

func (v *Validator) Errors() *apperrors.ValidationErrors { return v.errs }

// Err returns nil when every check passed.
func (v *Validator) Err() error {
	if !v.errs.HasErrors() {
		return nil
	}
	return v.errs
}

// Check records message against field when ok is false.
func (v *Validator) Check(ok bool, field, message string) *Validator {
	if !ok {
		v.errs.Add(field, message)
	}
	return v
}

func (v *Validator) Required(field, value string) *Validator {
	return v.Check(strings.TrimSpace(value) != "", field, "This field is required")
}

func (v *Validator) MaxLength(field, value string, max int) *Validator {
	return v.Check(len(value) <= max, field, fmt.Sprintf("Must be at most %d characters", max))
}

// UUID rejects malformed and nil ids. Empty values are left to Required.
func (v *Validator) UUID(field, value string) *Validator {
	if value == "" {
		return v
	}
	return v.Check(validID(value), field, "Must be a valid UUID")
}

// UUIDList accepts between one and max well-formed ids.
func (v *Validator) UUIDList(field string, values []string, max int) *Validator {
	switch {
	case len(values) == 0:
		return v.Check(false, field, "Must contain at least one id")
	case len(values) > max:
		return v.Check(false, field, fmt.Sprintf("Must contain at most %d ids", max))
	}
	for _, value := range values {
		v.Check(validID(value), field, "Contains an invalid UUID: "+value)
	}
	return v
}

func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	if value == "" {
		return v
	}
	return v.Check(slices.Contains(allowed, value), field, "Must be one of: "+strings.Join(allowed, ", "))
}

// Custom is Check with the field first, kept for call sites that read better
// that way.
func (v *Validator) Custom(field string, valid bool, message string) *Validator {
	return v.Check(valid, field, message)
}

func validID(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && id != uuid.Nil
}

// DecodeAndValidate reads one JSON document from the body and, when *T has
// field rules, applies them.
func DecodeAndValidate[T any](r *http.Request) (*T, error) {
	req := new(T)

	dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBodySize))
	if err := dec.Decode(req); err != nil {
		msg := "Invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is empty"
		}
		return nil, apperrors.NewBadRequestError(err, msg)
	}

	if v, ok := any(req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// URLParamUUID parses a chi path parameter as a non-nil UUID.
func URLParamUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err == nil && id == uuid.Nil {
		err = apperrors.ErrBadRequest
	}
	if err != nil {
		return uuid.Nil, apperrors.NewBadRequestError(err, "Invalid "+name)
	}
	return id, nil
}

type PaginationParams struct {
	Limit  int
	Offset int
}

func DefaultPagination() PaginationParams {
	return PaginationParams{Limit: 25}
}

// ParsePagination reads limit and offset from the query. Unparseable or
// out-of-range values keep their defaults and limit is capped at maxLimit.
func ParsePagination(r *http.Request, maxLimit int) PaginationParams {
	p := DefaultPagination()
	q := r.URL.Query()

	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		p.Offset = n
	}
	p.Limit = min(p.Limit, maxLimit)
	return p
}
