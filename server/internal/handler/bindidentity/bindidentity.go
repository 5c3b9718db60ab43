// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package bindidentity

import (
	"context"

	"github.com/curioswitch/clinicchat/server/internal/auth"
	"github.com/curioswitch/clinicchat/server/internal/clinicapi"
	"github.com/curioswitch/clinicchat/server/internal/identity"
)

func NewHandler(binder *identity.Binder) *Handler {
	return &Handler{
		binder: binder,
	}
}

type Handler struct {
	binder *identity.Binder
}

// BindUser refreshes the stored user from the identity provider. Clients
// call it after every sign in.
func (h *Handler) BindUser(ctx context.Context, _ *clinicapi.BindUserRequest) (*clinicapi.BindUserResponse, error) {
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	u, err := h.binder.Bind(ctx, p)
	if err != nil {
		return nil, err
	}
	return &clinicapi.BindUserResponse{User: u}, nil
}
