// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors provides HTTP error handling utilities for the API.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
)

// HandlerWithError is an HTTP handler that can return an error.
// This signature allows handlers to return errors instead of manually
// writing error responses, enabling centralized error handling.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// Upstream is the provider reply echoed back for rejected token requests.
type Upstream struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// Response is the JSON body of every error reply.
type Response struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable,omitempty"`
	Upstream  *Upstream `json:"upstream,omitempty"`
}

// ErrorHandler wraps a HandlerWithError and converts returned errors
// into JSON error replies.
//
// The status comes from errors.Code. Internal failures are logged and
// answered with a generic message; everything else carries the error's
// message and, for provider rejections, the provider's verbatim reply.
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		Write(w, err)
	}
}

// ErrRequestTooLarge is the error type of a body cut off by the size limit.
const ErrRequestTooLarge = "request_too_large"

// Write renders err as a JSON error reply.
func Write(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		WriteJSON(w, http.StatusRequestEntityTooLarge, Response{
			Error:   ErrRequestTooLarge,
			Message: http.StatusText(http.StatusRequestEntityTooLarge),
		})
		return
	}

	code := brokererrors.Code(err)
	resp := Response{
		Error:     brokererrors.TypeOf(err),
		Retryable: brokererrors.IsRetryable(err),
	}

	var typed *brokererrors.Error
	switch {
	case code == http.StatusInternalServerError:
		logger.Errorw("internal server error", "error", err)
		resp.Message = http.StatusText(code)
	case stderrors.As(err, &typed):
		resp.Message = typed.Message
	default:
		resp.Message = err.Error()
	}

	if upstream, ok := brokererrors.Upstream(err); ok {
		resp.Upstream = &Upstream{Status: upstream.StatusCode, Body: upstream.Body}
	}

	WriteJSON(w, code, resp)
}

// WriteJSON writes v as the JSON body of a reply with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("failed to write response", "error", err)
	}
}
