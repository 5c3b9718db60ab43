// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package createroom

import (
	"context"

	"github.com/curioswitch/clinicchat/server/internal/auth"
	"github.com/curioswitch/clinicchat/server/internal/clinicapi"
	"github.com/curioswitch/clinicchat/server/internal/rooms"
)

func NewHandler(directory *rooms.Directory) *Handler {
	return &Handler{
		directory: directory,
	}
}

type Handler struct {
	directory *rooms.Directory
}

func (h *Handler) CreateRoom(ctx context.Context, req *clinicapi.CreateRoomRequest) (*clinicapi.CreateRoomResponse, error) {
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	room, err := h.directory.Create(ctx, req.Name, p.UID)
	if err != nil {
		return nil, err
	}
	return &clinicapi.CreateRoomResponse{Room: room}, nil
}
