// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeApp parses a stored App, upgrading older layouts in memory.
// It reports whether the record needs to be written back.
//
// Version 1 records differ in two ways: userSelectedScope is a single
// string, and the client-secret quirk flag is named
// authTokenRequestParamsWithoutCSEC.
func decodeApp(data []byte) (*App, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false, fmt.Errorf("failed to decode app: %w", err)
	}

	migrated := false

	if raw, ok := fields["userSelectedScope"]; ok && isJSONString(raw) {
		var scope string
		if err := json.Unmarshal(raw, &scope); err != nil {
			return nil, false, fmt.Errorf("failed to decode legacy scope: %w", err)
		}
		upgraded, err := json.Marshal(legacyScopes(scope))
		if err != nil {
			return nil, false, err
		}
		fields["userSelectedScope"] = upgraded
		migrated = true
	}

	if raw, ok := fields["authTokenRequestParamsWithoutCSEC"]; ok {
		if _, present := fields["authTokenRequestParamsWithoutClientSecret"]; !present {
			fields["authTokenRequestParamsWithoutClientSecret"] = raw
		}
		delete(fields, "authTokenRequestParamsWithoutCSEC")
		migrated = true
	}

	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, false, err
	}

	var app App
	if err := json.Unmarshal(normalized, &app); err != nil {
		return nil, false, fmt.Errorf("failed to decode app: %w", err)
	}
	if app.SchemaVersion < CurrentAppSchemaVersion {
		app.SchemaVersion = CurrentAppSchemaVersion
		migrated = true
	}
	return &app, migrated, nil
}

// legacyScopes turns a version 1 scope string into a list. An empty string
// meant no scope.
func legacyScopes(scope string) []string {
	if strings.TrimSpace(scope) == "" {
		return []string{}
	}
	return []string{scope}
}

func isJSONString(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, `"`)
}
