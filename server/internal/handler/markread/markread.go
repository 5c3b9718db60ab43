// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package markread

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/curioswitch/clinicchat/server/internal/auth"
	"github.com/curioswitch/clinicchat/server/internal/clinicapi"
	"github.com/curioswitch/clinicchat/server/internal/messages"
)

func NewHandler(stream *messages.Stream) *Handler {
	return &Handler{
		stream: stream,
	}
}

type Handler struct {
	stream *messages.Stream
}

func (h *Handler) MarkRead(ctx context.Context, req *clinicapi.MarkReadRequest) (*clinicapi.MarkReadResponse, error) {
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	var grp errgroup.Group
	grp.SetLimit(10)
	for _, id := range req.MessageIDs {
		grp.Go(func() error {
			return h.stream.MarkRead(ctx, req.RoomID, id, p.UID)
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return &clinicapi.MarkReadResponse{}, nil
}
