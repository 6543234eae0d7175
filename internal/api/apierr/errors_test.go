package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/provisioner/internal/model"
)

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"task not found", fmt.Errorf("lookup: %w", model.ErrTaskNotFound), http.StatusNotFound, CodeTaskNotFound},
		{"account not found", model.ErrAccountNotFound, http.StatusNotFound, CodeAccountNotFound},
		{"validation", model.Errorf(model.KindValidation, "validate", "%w: quantity", model.ErrInvalidRequest), http.StatusBadRequest, CodeInvalidRequest},
		{"explicit invalid request", NewInvalidRequestError("bad body"), http.StatusBadRequest, CodeInvalidRequest},
		{"upstream", model.NewError(model.KindNetwork, "refresh", errors.New("dial")), http.StatusBadGateway, CodeUpstream},
		{"protocol", model.NewError(model.KindProtocol, "refresh", model.ErrInvalidGrant), http.StatusBadGateway, CodeUpstream},
		{"cancelled", model.ErrCancelled, http.StatusServiceUnavailable, CodeCancelled},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := toHTTPError(tt.err)
			assert.Equal(t, tt.status, he.status)
			assert.Equal(t, tt.code, he.apiError.Code)
			assert.Equal(t, tt.status, StatusOf(tt.err))
		})
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, model.Errorf(model.KindValidation, "validate request", "%w: quantity must be 1-20", model.ErrInvalidRequest))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "quantity must be 1-20")
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("redis: connection refused"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Internal server error", resp.Error.Message)
}
