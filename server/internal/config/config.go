// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"time"

	"github.com/curioswitch/go-curiostack/config"
)

type Access struct {
	// EmailDomain is the email domain of clinic accounts, e.g. example-dental.jp.
	// Accounts in the domain and those listed in authorization.emailsCSV may
	// use the server. If both are empty, any signed in user may.
	EmailDomain string `koanf:"emaildomain"`
}

type Store struct {
	// Backend is where data is stored, either firestore or memory. The memory
	// store loses all data on restart and is only for local development.
	Backend string `koanf:"backend"`
}

type Summarizer struct {
	// Provider is the text generation service, either gemini or openai.
	Provider string `koanf:"provider"`

	// Model is the model to generate summaries with.
	Model string `koanf:"model"`

	// APIKey is the API key of the provider. Summaries report missing
	// credentials when it is empty.
	APIKey string `koanf:"apikey"`
}

type Notifier struct {
	// Endpoint receives a POST for every sent message. Notifications are
	// disabled when empty.
	Endpoint string `koanf:"endpoint"`

	// Timeout bounds each notification.
	Timeout time.Duration `koanf:"timeout"`
}

type Images struct {
	// Bucket is the public bucket to upload message images to. Images are
	// returned as data URLs when empty.
	Bucket string `koanf:"bucket"`

	// MaxWidth is the width images are scaled down to.
	MaxWidth int `koanf:"maxwidth"`

	// Quality is the JPEG quality of uploaded images.
	Quality int `koanf:"quality"`
}

type Config struct {
	config.Common

	Access Access `koanf:"access"`

	Store Store `koanf:"store"`

	Summarizer Summarizer `koanf:"summarizer"`

	Notifier Notifier `koanf:"notifier"`

	Images Images `koanf:"images"`
}
