package httputil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]int{"count": 2})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fn     func(http.ResponseWriter, string)
		status int
	}{
		{BadRequest, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{ServiceUnavailable, http.StatusServiceUnavailable},
		{InternalServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.fn(rec, "nope")
		assert.Equal(t, tt.status, rec.Code)
		assert.JSONEq(t, `{"error":"nope"}`, rec.Body.String())
	}
}

func TestWriteJSON_Unencodable(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONOK(rec, math.Inf(1))
	assert.Equal(t, http.StatusOK, rec.Code, "status is written before encoding")
}
