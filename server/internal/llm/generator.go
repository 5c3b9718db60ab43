// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"
)

var (
	// ErrMissingAPIKey is returned when no API key is configured for the
	// generation provider.
	ErrMissingAPIKey = errors.New("llm: missing api key")

	// ErrEmptyResponse is returned when the provider returns no text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Request is a single structured generation call.
type Request struct {
	// SystemInstruction sets the persona of the model.
	SystemInstruction string

	// Prompt is the user content.
	Prompt string

	// Schema is the JSON schema the response must follow.
	Schema *genai.Schema
}

// Generator generates JSON text conforming to a schema.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Unconfigured is a Generator for when no API key is set. Every call fails
// with ErrMissingAPIKey.
type Unconfigured struct{}

func (Unconfigured) Generate(context.Context, Request) (string, error) {
	return "", ErrMissingAPIKey
}

// NewGenAI returns a Generator using Gemini.
func NewGenAI(client *genai.Client, model string) *GenAI {
	return &GenAI{
		client: client,
		model:  model,
	}
}

// GenAI generates with Gemini.
type GenAI struct {
	client *genai.Client
	model  string
}

func (g *GenAI) Generate(ctx context.Context, req Request) (string, error) {
	res, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleModel),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    req.Schema,
	})
	if err != nil {
		return "", fmt.Errorf("llm: generating content: %w", err)
	}
	text := res.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// NewOpenAI returns a Generator using OpenAI chat completions.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	return &OpenAI{
		client: client,
		model:  model,
	}
}

// OpenAI generates with OpenAI chat completions in strict JSON schema mode.
type OpenAI struct {
	client *openai.Client
	model  string
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	res, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemInstruction),
			openai.UserMessage(req.Prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: JSONSchema(req.Schema),
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: creating chat completion: %w", err)
	}
	if len(res.Choices) == 0 || strings.TrimSpace(res.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return res.Choices[0].Message.Content, nil
}

// JSONSchema converts a genai schema into a JSON schema document accepted by
// strict structured outputs. Every property is required and no additional
// properties are allowed.
func JSONSchema(s *genai.Schema) map[string]any {
	if s == nil {
		return nil
	}
	res := map[string]any{
		"type": strings.ToLower(string(s.Type)),
	}
	if s.Description != "" {
		res["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		res["enum"] = s.Enum
	}
	if s.Items != nil {
		res["items"] = JSONSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = JSONSchema(p)
		}
		res["properties"] = props
		res["required"] = slices.Sorted(maps.Keys(s.Properties))
		res["additionalProperties"] = false
	}
	return res
}
