// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// serviceConfigSchema is the structural contract every service file must meet.
const serviceConfigSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["name", "authUrl", "tokenUrl", "scopes", "authTokenRequestUrlencoded", "refreshTokenAuthHeader"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z0-9][a-z0-9-]*$"},
    "authUrl": {"type": "string", "minLength": 1},
    "tokenUrl": {"type": "string", "minLength": 1},
    "userInfoUrl": {"type": "string"},
    "scopes": {"type": "object", "additionalProperties": {"type": "string"}},
    "userInfoScope": {"type": "string"},
    "additionalRequiredAuthUrlParams": {"type": "object", "additionalProperties": {"type": "string"}},
    "additionalHeaders": {"type": "object", "additionalProperties": {"type": "string"}},
    "authTokenRequestUrlencoded": {"type": "boolean"},
    "authTokenRequestParamsWithoutClientSecret": {"type": "boolean"},
    "refreshTokenAuthHeader": {"type": "boolean"},
    "refreshTokenPolicy": {"type": "string", "enum": ["keep-prior", "require-new"]},
    "isProd": {"type": "boolean"}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(serviceConfigSchema)

// validateDocument checks a decoded service document against the schema.
func validateDocument(doc map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to evaluate schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("schema violations: %s", strings.Join(problems, "; "))
}

// Validate applies the semantic checks the schema cannot express.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := validateEndpoint("authUrl", c.AuthURL); err != nil {
		return err
	}
	if err := validateEndpoint("tokenUrl", c.TokenURL); err != nil {
		return err
	}
	if c.UserInfoURL != "" {
		if err := validateEndpoint("userInfoUrl", c.UserInfoURL); err != nil {
			return err
		}
	}
	switch c.RefreshTokenPolicy {
	case "", RefreshTokenKeepPrior, RefreshTokenRequireNew:
	default:
		return fmt.Errorf("unknown refreshTokenPolicy %q", c.RefreshTokenPolicy)
	}
	return nil
}

func validateEndpoint(field, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL with a host", field)
	}
	return nil
}
