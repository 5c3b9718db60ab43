// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package httpapi serves unary JSON operations over plain HTTP POST with
// errors in the Connect unary error format.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
)

// MaxRequestBytes bounds request bodies. Image uploads are the largest
// requests.
const MaxRequestBytes = 16 << 20

var errInternal = errors.New("internal error")

var errWriter = connect.NewErrorWriter()

// Handle registers fn as the POST handler for path. The request body is
// decoded as JSON into Req and the result encoded as JSON. Errors carrying a
// Connect code are returned to the client as is. Other errors are logged and
// reported as internal.
func Handle[Req, Res any](mux chi.Router, path string, fn func(ctx context.Context, req *Req) (*Res, error)) {
	mux.Post(path, func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req Req
		body := http.MaxBytesReader(w, r.Body, MaxRequestBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			WriteError(w, r, connect.NewError(connect.CodeInvalidArgument, err))
			return
		}

		res, err := fn(ctx, &req)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			slog.ErrorContext(ctx, "httpapi: writing response", "path", path, "error", err)
		}
	})
}

// WriteError writes err in the Connect unary error format.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var cErr *connect.Error
	if !errors.As(err, &cErr) {
		slog.ErrorContext(r.Context(), "httpapi: unexpected error", "path", r.URL.Path, "error", err)
		err = connect.NewError(connect.CodeInternal, errInternal)
	} else if cErr.Code() == connect.CodeInternal || cErr.Code() == connect.CodeUnknown {
		slog.ErrorContext(r.Context(), "httpapi: internal error", "path", r.URL.Path, "error", err)
	}
	if wErr := errWriter.Write(w, r, err); wErr != nil {
		slog.ErrorContext(r.Context(), "httpapi: writing error", "path", r.URL.Path, "error", wErr)
	}
}
