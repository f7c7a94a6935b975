package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orchestron-ai/orchestron/types"
)

func TestWriteSuccessEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        *types.Error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid request",
			err:        types.NewError(types.ErrInvalidRequest, "trigger is required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "flow error",
			err:        types.NewError(types.ErrFlow, "no start node"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "FLOW_ERROR",
		},
		{
			name:       "not found",
			err:        types.NewError(types.ErrNotFound, "execution not found"),
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "fatal gateway",
			err:        types.NewError(types.ErrFatalGateway, "provider rejected the key"),
			wantStatus: http.StatusBadGateway,
			wantCode:   "GATEWAY_FATAL",
		},
		{
			name:       "transient gateway",
			err:        types.NewError(types.ErrTransientGateway, "rate limited").WithRetryable(true),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "GATEWAY_TRANSIENT",
		},
		{
			name:       "explicit status wins",
			err:        types.NewError(types.ErrInternal, "teapot").WithHTTPStatus(http.StatusTeapot),
			wantStatus: http.StatusTeapot,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestWriteErrorFromWrapsPlainErrors(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorFrom(w, assert.AnError, zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope": 1}`))

	var dst struct {
		Known string `json:"known"`
	}
	err := DecodeJSONBody(w, r, &dst, zap.NewNop())

	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
