// Package manifest parses plugin descriptors (JSON or YAML) into
// plugin.Descriptor values.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Parse errors.
var (
	ErrInvalidVersion    = errors.New("manifest: version must be valid semver")
	ErrInvalidRole       = errors.New("manifest: role entry must be a string or {name, flags}")
	ErrInvalidDependency = errors.New("manifest: dependency needs a role or an id")
	ErrUnsupportedFormat = errors.New("manifest: unsupported descriptor format")
)

// Format selects the descriptor encoding.
type Format int

// Descriptor encodings.
const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Parse decodes a descriptor. A missing id is not reported here; the
// registry rejects it with plugin.ErrMissingIdentifier.
func Parse(data []byte, format Format) (plugin.Descriptor, error) {
	raw := map[string]any{}
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return plugin.Descriptor{}, fmt.Errorf("parse json descriptor: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return plugin.Descriptor{}, fmt.Errorf("parse yaml descriptor: %w", err)
		}
	default:
		return plugin.Descriptor{}, ErrUnsupportedFormat
	}
	return fromMap(raw)
}

func fromMap(raw map[string]any) (plugin.Descriptor, error) {
	d := plugin.Descriptor{
		ID:          stringField(raw, "id"),
		Name:        stringField(raw, "name"),
		Version:     stringField(raw, "version"),
		InterfaceID: stringField(raw, "interfaceId"),
		ClassName:   stringField(raw, "className"),
		Flags:       plugin.ParseFlags(stringField(raw, "flags")),
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.Version == "" {
		d.Version = "0.0.0"
	}
	if !semver.IsValid(canonical(d.Version)) {
		return d, fmt.Errorf("%w: %q", ErrInvalidVersion, d.Version)
	}

	roles, err := ParseRoles(listField(raw, "roles"))
	if err != nil {
		return d, err
	}
	d.Roles = roles

	deps, err := ParseDependencies(listField(raw, "dependencies"))
	if err != nil {
		return d, err
	}
	d.Dependencies = deps
	return d, nil
}

// ParseRoles converts the descriptor's roles array. A bare string is a role
// offered with the client flag; an object carries its own flag string.
func ParseRoles(items []any) ([]plugin.Role, error) {
	roles := make([]plugin.Role, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			roles = append(roles, plugin.Role{Name: v, Flags: plugin.FlagClient})
		case map[string]any:
			name := stringField(v, "name")
			if name == "" {
				return nil, fmt.Errorf("%w: roles[%d] has no name", ErrInvalidRole, i)
			}
			roles = append(roles, plugin.Role{Name: name, Flags: plugin.ParseFlags(stringField(v, "flags"))})
		default:
			return nil, fmt.Errorf("%w: roles[%d]", ErrInvalidRole, i)
		}
	}
	return roles, nil
}

// ParseDependencies converts the descriptor's dependencies array. A bare
// string names a required role; an object may set role, id, required
// (default true) and flags.
func ParseDependencies(items []any) ([]plugin.Dependency, error) {
	deps := make([]plugin.Dependency, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			if v == "" {
				return nil, fmt.Errorf("%w: dependencies[%d]", ErrInvalidDependency, i)
			}
			deps = append(deps, plugin.Dependency{Role: v, Required: true})
		case map[string]any:
			dep := plugin.Dependency{
				Role:     stringField(v, "role"),
				ID:       stringField(v, "id"),
				Required: true,
				Flags:    plugin.ParseFlags(stringField(v, "flags")),
			}
			if req, ok := v["required"].(bool); ok {
				dep.Required = req
			}
			if dep.Role == "" && dep.ID == "" {
				return nil, fmt.Errorf("%w: dependencies[%d]", ErrInvalidDependency, i)
			}
			deps = append(deps, dep)
		default:
			return nil, fmt.Errorf("%w: dependencies[%d]", ErrInvalidDependency, i)
		}
	}
	return deps, nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func listField(m map[string]any, key string) []any {
	items, _ := m[key].([]any)
	return items
}

// canonical ensures the version has the "v" prefix semver expects.
func canonical(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}
