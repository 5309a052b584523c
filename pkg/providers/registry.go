// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
)

// Registry is an immutable lookup of service configurations keyed by name.
type Registry struct {
	services map[string]*ServiceConfig
}

// NewRegistry builds a registry from already-decoded configurations.
// Every entry is validated; a duplicate or invalid entry fails the whole set.
func NewRegistry(configs ...ServiceConfig) (*Registry, error) {
	r := &Registry{services: make(map[string]*ServiceConfig, len(configs))}
	for i := range configs {
		cfg := configs[i]
		if err := cfg.Validate(); err != nil {
			return nil, brokererrors.NewValidationError(fmt.Sprintf("invalid service %q", cfg.Name), err)
		}
		if _, dup := r.services[cfg.Name]; dup {
			return nil, brokererrors.NewValidationError(fmt.Sprintf("duplicate service %q", cfg.Name), nil)
		}
		r.services[cfg.Name] = &cfg
	}
	return r, nil
}

// Load reads every *.yaml file in dir.
func Load(dir string) (*Registry, error) {
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads every *.yaml file at the root of fsys. The file stem must
// match the service name declared inside it.
func LoadFS(fsys fs.FS) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read service config directory: %w", err)
	}

	var configs []ServiceConfig
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".yaml" {
			continue
		}
		cfg, err := loadFile(fsys, entry.Name())
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}

	registry, err := NewRegistry(configs...)
	if err != nil {
		return nil, err
	}

	logger.Infow("loaded service configurations", "count", len(configs))
	return registry, nil
}

func loadFile(fsys fs.FS, name string) (*ServiceConfig, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, brokererrors.NewValidationError(fmt.Sprintf("malformed yaml in %s", name), err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, brokererrors.NewValidationError(fmt.Sprintf("invalid service config %s", name), err)
	}

	var cfg ServiceConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, brokererrors.NewValidationError(fmt.Sprintf("malformed yaml in %s", name), err)
	}

	stem := strings.TrimSuffix(name, ".yaml")
	if cfg.Name != stem {
		return nil, brokererrors.NewValidationError(
			fmt.Sprintf("service name %q does not match file %s", cfg.Name, name), nil)
	}
	return &cfg, nil
}

// Get returns the configuration for service.
func (r *Registry) Get(service string) (*ServiceConfig, error) {
	cfg, ok := r.services[service]
	if !ok {
		return nil, brokererrors.NewUnknownServiceError(service, nil)
	}
	return cfg, nil
}

// Names returns every configured service name in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Index returns the published (isProd) services.
func (r *Registry) Index() []IndexEntry {
	var index []IndexEntry
	for _, name := range r.Names() {
		if !r.services[name].IsProd {
			continue
		}
		index = append(index, IndexEntry{
			Name: name,
			Icon: "/" + name + ".svg",
			Link: "services/" + name,
		})
	}
	return index
}
