// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package imageintake

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ParseDataURL splits a base64 image data URL into its content type and
// decoded bytes.
func ParseDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, fmt.Errorf("imageintake: not a data URL: %w", ErrInvalidImage)
	}
	ct, contents, ok := strings.Cut(rest, ";")
	if !ok {
		return "", nil, fmt.Errorf("imageintake: data URL missing encoding: %w", ErrInvalidImage)
	}
	if !strings.HasPrefix(ct, "image/") {
		return "", nil, fmt.Errorf("imageintake: only image data URLs supported, got %q: %w", ct, ErrInvalidImage)
	}
	b64, ok := strings.CutPrefix(contents, "base64,")
	if !ok {
		return "", nil, fmt.Errorf("imageintake: only base64 data URLs supported: %w", ErrInvalidImage)
	}
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("imageintake: decoding base64 data URL: %w: %w", ErrInvalidImage, err)
	}
	return ct, b, nil
}

// ToDataURL encodes JPEG bytes as a data URL.
func ToDataURL(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(b)
}
