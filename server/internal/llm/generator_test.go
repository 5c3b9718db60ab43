// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioswitch/clinicchat/common/clinicchatdb"
	"github.com/curioswitch/clinicchat/server/internal/i18n"
)

func TestJSONSchema(t *testing.T) {
	got := JSONSchema(clinicchatdb.SummaryResponseSchema)

	assert.Equal(t, "object", got["type"])
	assert.Equal(t, false, got["additionalProperties"])
	assert.Equal(t, []string{"actionItems", "keyPoints", "summary"}, got["required"])

	props, ok := got["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", props["summary"].(map[string]any)["type"])

	keyPoints := props["keyPoints"].(map[string]any)
	assert.Equal(t, "array", keyPoints["type"])
	assert.Equal(t, map[string]any{"type": "string"}, keyPoints["items"])

	assert.Nil(t, JSONSchema(nil))
}

func TestUnconfigured(t *testing.T) {
	_, err := Unconfigured{}.Generate(context.Background(), Request{Prompt: "hi"})
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestSummarizerPrompt(t *testing.T) {
	assert.Contains(t, SummarizerPrompt(context.Background()), "日本語で返してください")
	en := i18n.WithUserLanguage(context.Background(), "en")
	assert.Contains(t, SummarizerPrompt(en), "英語で返してください")
}
