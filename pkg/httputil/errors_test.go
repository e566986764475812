package httputil

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/observability"
)

var (
	errMissing  = errors.New("thing not found")
	errConflict = errors.New("thing already exists")
)

func TestErrorMapperStatus(t *testing.T) {
	m := NewErrorMapper().
		Map(http.StatusNotFound, errMissing).
		Map(http.StatusConflict, errConflict)

	assert.Equal(t, http.StatusNotFound, m.Status(errMissing))
	assert.Equal(t, http.StatusNotFound, m.Status(fmt.Errorf("failed to load: %w", errMissing)))
	assert.Equal(t, http.StatusConflict, m.Status(errConflict))
	assert.Equal(t, http.StatusBadRequest, m.Status(requestErrorf("bad")))
	assert.Equal(t, http.StatusInternalServerError, m.Status(errors.New("boom")))
}

func TestWriteServiceError(t *testing.T) {
	m := NewErrorMapper().Map(http.StatusNotFound, errMissing)

	t.Run("mapped error keeps its message", func(t *testing.T) {
		w := httptest.NewRecorder()
		m.WriteServiceError(w, httptest.NewRequest(http.MethodGet, "/x", nil), fmt.Errorf("wrap: %w", errMissing))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"wrap: thing not found"}`, w.Body.String())
	})

	t.Run("unmapped error is hidden and logged", func(t *testing.T) {
		var logs bytes.Buffer
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req = req.WithContext(observability.WithLogger(req.Context(), observability.NewLogger(observability.InfoLevel, &logs)))

		w := httptest.NewRecorder()
		m.WriteServiceError(w, req, errors.New("pq: connection reset"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "pq:")
		assert.Contains(t, logs.String(), "pq: connection reset")
	})

	t.Run("validation errors carry details", func(t *testing.T) {
		var req struct {
			Email string `json:"email" validate:"required,email"`
			Name  string `json:"name" validate:"max=3"`
		}
		req.Email, req.Name = "nope", "toolong"
		err := Validate(&req)
		require.Error(t, err)

		w := httptest.NewRecorder()
		m.WriteServiceError(w, httptest.NewRequest(http.MethodPost, "/x", nil), err)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"validation failed","details":{"email":"email","name":"max=3"}}`, w.Body.String())
	})
}
