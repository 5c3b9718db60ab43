// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package i18n tracks the language of the requesting user.
package i18n

import (
	"context"
	"net/http"
	"strings"
)

type userLanguageContextKey struct{}

var userLanguageContextKeyInstance = userLanguageContextKey{}

// Middleware stores the primary language of the Accept-Language header in
// the request context.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if lng := PrimaryLanguage(r.Header.Get("Accept-Language")); lng != "" {
				r = r.WithContext(WithUserLanguage(r.Context(), lng))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrimaryLanguage returns the base language of the first entry of an
// Accept-Language header, e.g. "en" for "en-US,ja;q=0.8".
func PrimaryLanguage(header string) string {
	lng, _, _ := strings.Cut(header, ",")
	lng, _, _ = strings.Cut(lng, ";")
	lng, _, _ = strings.Cut(strings.TrimSpace(lng), "-")
	return strings.ToLower(lng)
}

// WithUserLanguage returns a context carrying the user's language.
func WithUserLanguage(ctx context.Context, lng string) context.Context {
	return context.WithValue(ctx, userLanguageContextKeyInstance, lng)
}

// UserLanguage returns the user's language, or an empty string if unknown.
func UserLanguage(ctx context.Context) string {
	if lng, ok := ctx.Value(userLanguageContextKeyInstance).(string); ok {
		return lng
	}
	return ""
}
