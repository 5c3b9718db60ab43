// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package summarize

import (
	"context"

	"github.com/curioswitch/clinicchat/server/internal/auth"
	"github.com/curioswitch/clinicchat/server/internal/clinicapi"
	"github.com/curioswitch/clinicchat/server/internal/messages"
	"github.com/curioswitch/clinicchat/server/internal/summarizer"
)

func NewHandler(stream *messages.Stream, sum *summarizer.Summarizer) *Handler {
	return &Handler{
		stream: stream,
		sum:    sum,
	}
}

type Handler struct {
	stream *messages.Stream
	sum    *summarizer.Summarizer
}

// Summarize summarizes the current message window of a room. Generation
// failures are reported inside the summary, not as errors.
func (h *Handler) Summarize(ctx context.Context, req *clinicapi.SummarizeRequest) (*clinicapi.SummarizeResponse, error) {
	p, err := auth.RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	window, err := h.stream.Recent(ctx, req.RoomID, p.UID)
	if err != nil {
		return nil, err
	}
	return &clinicapi.SummarizeResponse{
		Summary: h.sum.Summarize(ctx, window),
	}, nil
}
