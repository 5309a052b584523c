// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = httperr.WithCode(
	errors.New("key not found"),
	http.StatusNotFound,
)
