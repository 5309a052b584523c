// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		want       Response
	}{
		{
			name:       "validation",
			err:        brokererrors.NewValidationError("code is required", nil),
			wantStatus: http.StatusBadRequest,
			want:       Response{Error: brokererrors.ErrValidation, Message: "code is required"},
		},
		{
			name:       "wrapped not found",
			err:        fmt.Errorf("loading: %w", brokererrors.NewAppNotFoundError("h", "demo")),
			wantStatus: http.StatusNotFound,
			want:       Response{Error: brokererrors.ErrAppNotFound, Message: brokererrors.NewAppNotFoundError("h", "demo").Message},
		},
		{
			name:       "provider rejection keeps reply",
			err:        brokererrors.NewTokenExchangeFailedError(http.StatusBadRequest, `{"error":"invalid_grant"}`),
			wantStatus: http.StatusBadGateway,
			want: Response{
				Error:    brokererrors.ErrTokenExchangeFailed,
				Message:  brokererrors.NewTokenExchangeFailedError(http.StatusBadRequest, "").Message,
				Upstream: &Upstream{Status: http.StatusBadRequest, Body: `{"error":"invalid_grant"}`},
			},
		},
		{
			name:       "transport is retryable",
			err:        brokererrors.NewTransportError("provider unreachable", errors.New("dial tcp")),
			wantStatus: http.StatusBadGateway,
			want:       Response{Error: brokererrors.ErrTransport, Message: "provider unreachable", Retryable: true},
		},
		{
			name:       "body over the size limit",
			err:        brokererrors.NewValidationError("invalid request body", &http.MaxBytesError{Limit: 1024}),
			wantStatus: http.StatusRequestEntityTooLarge,
			want:       Response{Error: ErrRequestTooLarge, Message: "Request Entity Too Large"},
		},
		{
			name:       "untyped error is hidden",
			err:        errors.New("redis: connection refused"),
			wantStatus: http.StatusInternalServerError,
			want:       Response{Error: brokererrors.ErrInternal, Message: "Internal Server Error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := ErrorHandler(func(http.ResponseWriter, *http.Request) error { return tt.err })
			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var got Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorHandler_NoError(t *testing.T) {
	t.Parallel()

	handler := ErrorHandler(func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
