package httputil

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/sellhub/pkg/observability"
)

type errorStatus struct {
	err    error
	status int
}

// ErrorMapper maps sentinel errors to HTTP statuses. The first registered
// sentinel matched with errors.Is wins.
type ErrorMapper struct {
	entries []errorStatus
}

// NewErrorMapper creates an empty mapper
func NewErrorMapper() *ErrorMapper {
	return &ErrorMapper{}
}

// Map registers errs to be reported with status
func (m *ErrorMapper) Map(status int, errs ...error) *ErrorMapper {
	for _, err := range errs {
		m.entries = append(m.entries, errorStatus{err: err, status: status})
	}
	return m
}

// Status returns the status for err, 500 when nothing matches
func (m *ErrorMapper) Status(err error) int {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusBadRequest
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest
	}
	for _, e := range m.entries {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// WriteServiceError writes err with its mapped status. Unmapped errors are
// logged with the request logger and reported as a generic 500.
func (m *ErrorMapper) WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		WriteDetailedError(w, http.StatusBadRequest, "validation failed", validationDetails(validationErrs))
		return
	}

	status := m.Status(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithFields(map[string]interface{}{"method": r.Method, "path": r.URL.Path}).
			Error("request failed")
		WriteInternalError(w)
		return
	}
	WriteError(w, status, err)
}

func validationDetails(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		details[fe.Field()] = msg
	}
	return details
}
