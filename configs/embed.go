// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package configs embeds the provider configurations shipped with the broker.
package configs

import (
	"embed"
	"io/fs"
)

//go:embed services/*.yaml
var services embed.FS

// Services returns the built-in provider configs rooted at their directory.
func Services() fs.FS {
	sub, err := fs.Sub(services, "services")
	if err != nil {
		panic(err)
	}
	return sub
}
