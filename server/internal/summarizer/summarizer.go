// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

// Package summarizer distills a room's recent conversation into a structured
// summary with a generation model.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
	"github.com/curioswitch/clinicchat/server/internal/llm"
)

const (
	// MinMessages is the fewest messages worth summarizing. Fewer skip the
	// generation call.
	MinMessages = 3

	// MaxMessages is the most recent messages included in a summary.
	MaxMessages = 50
)

// Failure causes reported in the key points of an error summary.
const (
	CauseMissingCredentials = "missing-credentials"
	CauseRequestFailed      = "request-failed"
	CauseEmptyResponse      = "empty-response"
	CauseMalformedOutput    = "malformed-output"
	CauseSchemaViolation    = "schema-violation"
)

// InsufficientMessages is returned without calling the model when there are
// too few messages.
func InsufficientMessages() clinicchatdb.SummaryResponse {
	return clinicchatdb.SummaryResponse{
		Summary:     "申し訳ありません。要約するにはメッセージが少なすぎます。",
		KeyPoints:   []string{"insufficient message count"},
		ActionItems: []string{"もう少し会話が進んでから再度お試しください。"},
	}
}

// Failed is returned when generation fails for the cause.
func Failed(cause string, detail string) clinicchatdb.SummaryResponse {
	return clinicchatdb.SummaryResponse{
		Summary:   "要約の生成に失敗しました。",
		KeyPoints: []string{fmt.Sprintf("error cause: %s: %s", cause, detail)},
		ActionItems: []string{
			"ネットワーク接続を確認してください。",
			"APIキーの設定を確認してください。",
			"しばらくしてから再度お試しください。",
		},
	}
}

// New returns a Summarizer generating with gen.
func New(gen llm.Generator) *Summarizer {
	return &Summarizer{
		gen: gen,
	}
}

// Summarizer summarizes conversations.
type Summarizer struct {
	gen llm.Generator
}

// Summarize returns a summary of the messages, which must be ordered oldest
// first. It never fails. Problems are reported in the returned summary.
func (s *Summarizer) Summarize(ctx context.Context, messages []clinicchatdb.Message) clinicchatdb.SummaryResponse {
	if len(messages) < MinMessages {
		return InsufficientMessages()
	}
	if len(messages) > MaxMessages {
		messages = messages[len(messages)-MaxMessages:]
	}

	text, err := s.gen.Generate(ctx, llm.Request{
		SystemInstruction: llm.SummarizerPrompt(ctx),
		Prompt:            Transcript(messages),
		Schema:            clinicchatdb.SummaryResponseSchema,
	})
	if err != nil {
		cause := CauseRequestFailed
		switch {
		case errors.Is(err, llm.ErrMissingAPIKey):
			cause = CauseMissingCredentials
		case errors.Is(err, llm.ErrEmptyResponse):
			cause = CauseEmptyResponse
		}
		slog.ErrorContext(ctx, "summarizer: generation failed", "cause", cause, "error", err)
		return Failed(cause, err.Error())
	}

	res, cause, err := parse(text)
	if err != nil {
		slog.ErrorContext(ctx, "summarizer: invalid generated summary", "cause", cause, "error", err)
		return Failed(cause, err.Error())
	}
	return res
}

// Transcript renders messages one per line as the model's input.
func Transcript(messages []clinicchatdb.Message) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.SenderName)
		sb.WriteString(": ")
		if m.Text != "" {
			sb.WriteString(m.Text)
		} else {
			sb.WriteString("[画像]")
		}
		if m.IsImportant {
			sb.WriteString(" [重要]")
		}
	}
	return sb.String()
}

var summaryFields = []string{"actionItems", "keyPoints", "summary"}

// parse decodes generated JSON, returning the failure cause along with any
// error.
func parse(text string) (clinicchatdb.SummaryResponse, string, error) {
	if strings.TrimSpace(text) == "" {
		return clinicchatdb.SummaryResponse{}, CauseEmptyResponse, llm.ErrEmptyResponse
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return clinicchatdb.SummaryResponse{}, CauseMalformedOutput, fmt.Errorf("summarizer: decoding response: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, summaryFields) {
		return clinicchatdb.SummaryResponse{}, CauseSchemaViolation, fmt.Errorf("summarizer: unexpected fields %v", keys)
	}

	var res clinicchatdb.SummaryResponse
	if err := json.Unmarshal(fields["summary"], &res.Summary); err != nil || string(fields["summary"]) == "null" {
		return clinicchatdb.SummaryResponse{}, CauseSchemaViolation, fmt.Errorf("summarizer: summary is not a string: %s", fields["summary"])
	}
	if err := json.Unmarshal(fields["keyPoints"], &res.KeyPoints); err != nil || res.KeyPoints == nil {
		return clinicchatdb.SummaryResponse{}, CauseSchemaViolation, fmt.Errorf("summarizer: keyPoints is not a string array: %s", fields["keyPoints"])
	}
	if err := json.Unmarshal(fields["actionItems"], &res.ActionItems); err != nil || res.ActionItems == nil {
		return clinicchatdb.SummaryResponse{}, CauseSchemaViolation, fmt.Errorf("summarizer: actionItems is not a string array: %s", fields["actionItems"])
	}
	return res, "", nil
}
