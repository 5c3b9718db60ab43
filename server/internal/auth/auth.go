// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package auth turns verified identity provider tokens into the principal
// acting on a request, and restricts access to clinic members.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"connectrpc.com/connect"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/curioswitch/go-usegcp/middleware/firebaseauth"
)

var (
	ErrMissingToken = errors.New("auth: missing or invalid id token")
	ErrNotAllowed   = errors.New("auth: user is not a member of the clinic")
)

// Principal is an authenticated user as reported by the identity provider.
// Any field other than UID may be empty.
type Principal struct {
	UID         string
	DisplayName string
	Email       string
	PhotoURL    string
}

type principalContextKey struct{}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal of the request. ok is false for
// unauthenticated requests.
func PrincipalFromContext(ctx context.Context) (p Principal, ok bool) {
	p, ok = ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// RequirePrincipal returns the principal of the request, or an
// Unauthenticated error if there is none.
func RequirePrincipal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, connect.NewError(connect.CodeUnauthenticated, ErrMissingToken)
	}
	return p, nil
}

// PrincipalFromToken reads the principal from a verified ID token.
func PrincipalFromToken(tok *fbauth.Token) Principal {
	p := Principal{
		UID:         tok.UID,
		DisplayName: stringClaim(tok.Claims, "name"),
		Email:       stringClaim(tok.Claims, "email"),
		PhotoURL:    stringClaim(tok.Claims, "picture"),
	}
	if p.Email == "" {
		if id, ok := tok.Firebase.Identities["email"]; ok {
			if idAny, ok := id.([]any); ok && len(idAny) > 0 {
				if email, ok := idAny[0].(string); ok {
					p.Email = email
				}
			}
		}
	}
	return p
}

func stringClaim(claims map[string]any, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}

// AccessPolicy decides which principals may use the server. A principal is
// allowed if their email is in the clinic's domain or explicitly listed. An
// empty policy allows everyone.
type AccessPolicy struct {
	// Domain is the email domain of clinic accounts, e.g. example-dental.jp.
	Domain string

	// Emails are additional allowed email addresses.
	Emails []string
}

// NewAccessPolicy returns a policy for the domain and comma separated
// emails.
func NewAccessPolicy(domain string, emailsCSV string) AccessPolicy {
	var emails []string
	for e := range strings.SplitSeq(emailsCSV, ",") {
		if e = strings.TrimSpace(e); e != "" {
			emails = append(emails, strings.ToLower(e))
		}
	}
	return AccessPolicy{
		Domain: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@")),
		Emails: emails,
	}
}

// Allows returns whether the principal may use the server.
func (a AccessPolicy) Allows(p Principal) bool {
	if a.Domain == "" && len(a.Emails) == 0 {
		return true
	}
	email := strings.ToLower(p.Email)
	if email == "" {
		return false
	}
	if a.Domain != "" && strings.HasSuffix(email, "@"+a.Domain) {
		return true
	}
	return slices.Contains(a.Emails, email)
}

// TokenSource extracts a verified ID token from a request. It returns nil if
// the request has none.
type TokenSource func(r *http.Request) *fbauth.Token

// FirebaseAuthToken reads the token verified by firebaseauth middleware.
func FirebaseAuthToken(r *http.Request) *fbauth.Token {
	return firebaseauth.TokenFromContext(r.Context())
}

// TokenVerifier verifies raw ID tokens. *auth.Client implements it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// QueryToken verifies the ID token in the token query parameter. Browsers
// cannot set headers on WebSocket handshakes so the session endpoint
// authenticates this way.
func QueryToken(v TokenVerifier) TokenSource {
	return func(r *http.Request) *fbauth.Token {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			return nil
		}
		tok, err := v.VerifyIDToken(r.Context(), raw)
		if err != nil {
			return nil
		}
		return tok
	}
}

// Middleware resolves the principal of each request from src and enforces
// policy. Requests without a principal fail with Unauthenticated and
// principals outside the policy with PermissionDenied.
func Middleware(src TokenSource, policy AccessPolicy) func(http.Handler) http.Handler {
	errWriter := connect.NewErrorWriter()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := src(r)
			if tok == nil || tok.UID == "" {
				_ = errWriter.Write(w, r, connect.NewError(connect.CodeUnauthenticated, ErrMissingToken))
				return
			}
			p := PrincipalFromToken(tok)
			if !policy.Allows(p) {
				_ = errWriter.Write(w, r, connect.NewError(connect.CodePermissionDenied, ErrNotAllowed))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
