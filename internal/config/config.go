// Package config loads the process configuration, builds the logger and
// hands each plugin its own section of the configuration.
package config

import (
	"strings"
	"time"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"github.com/spf13/viper"
)

var _ plugin.Config = (*Section)(nil)

// Section is a view of the keys under one prefix of the root configuration.
// Reads go through the root instance, so defaults and STB_ environment
// overrides apply: STB_PLUGINS_MAG_API_PORTAL sets plugins.mag-api.portal.
type Section struct {
	v      *viper.Viper
	prefix string
}

// ForPlugin returns the "plugins.<id>" section of v. A plugin with no
// section gets an empty one.
func ForPlugin(v *viper.Viper, id string) *Section {
	return NewSection(v, "plugins."+id)
}

// NewSection returns the section of v rooted at prefix. An empty prefix
// means the whole configuration.
func NewSection(v *viper.Viper, prefix string) *Section {
	if v == nil {
		v = viper.New()
	}
	return &Section{v: v, prefix: strings.Trim(prefix, ".")}
}

func (s *Section) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + "." + k
}

// Unmarshal decodes the section into target. Like viper's own Unmarshal it
// sees file values and defaults; environment overrides reach only the
// scalar getters.
func (s *Section) Unmarshal(target any) error {
	if s.prefix == "" {
		return s.v.Unmarshal(target)
	}
	return s.v.UnmarshalKey(s.prefix, target)
}

func (s *Section) Get(key string) any                   { return s.v.Get(s.key(key)) }
func (s *Section) GetString(key string) string          { return s.v.GetString(s.key(key)) }
func (s *Section) GetInt(key string) int                { return s.v.GetInt(s.key(key)) }
func (s *Section) GetBool(key string) bool              { return s.v.GetBool(s.key(key)) }
func (s *Section) GetDuration(key string) time.Duration { return s.v.GetDuration(s.key(key)) }
func (s *Section) IsSet(key string) bool                { return s.v.IsSet(s.key(key)) }

// Sub narrows the section further; "webhook" under plugins.notifier reads
// plugins.notifier.webhook.*.
func (s *Section) Sub(key string) plugin.Config {
	return &Section{v: s.v, prefix: s.key(strings.Trim(key, "."))}
}

// Prefix returns the dotted path the section reads under.
func (s *Section) Prefix() string { return s.prefix }
