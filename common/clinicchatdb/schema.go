// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package clinicchatdb

import "google.golang.org/genai"

var SummaryResponseSchema = &genai.Schema{
	Type:        "object",
	Description: "A summary of a conversation between clinic staff.",
	Required:    []string{"summary", "keyPoints", "actionItems"},
	Properties: map[string]*genai.Schema{
		"summary": {
			Type:        "string",
			Description: "A short overview of the conversation.",
		},
		"keyPoints": {
			Type:        "array",
			Description: "The important points of the conversation, in order.",
			Items: &genai.Schema{
				Type: "string",
			},
		},
		"actionItems": {
			Type:        "array",
			Description: "Tasks someone needs to do as a result of the conversation, in order.",
			Items: &genai.Schema{
				Type: "string",
			},
		},
	},
}
