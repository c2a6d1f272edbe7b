package weft

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Settings is the Application's settings store. Every field here is one of
// the recognized settings; unrecognized keys set via Application.Set are
// stored in Extra and returnable but have no observable effect.
//
// Grounded on air's Config (field-per-setting struct decoded via
// mapstructure from a JSON/TOML/YAML file), extended with an Extra bag for
// the unrecognized-key contract that air's Config, being a fixed struct
// with no such bag, doesn't need.
type Settings struct {
	CaseSensitiveRouting bool   `mapstructure:"case_sensitive_routing"`
	StrictRouting        bool   `mapstructure:"strict_routing"`
	Env                  string `mapstructure:"env"`

	// TrustProxy is either an int (hop count) or a []string of trusted
	// CIDRs, resolved per Open Question decision.
	TrustProxy interface{} `mapstructure:"-"`

	JSON JSONSettings `mapstructure:"-"`

	// QueryParser selects "extended" (nested a[b]=1 parsing) or "simple"
	// (flat) query-string parsing.
	QueryParser string `mapstructure:"query_parser"`

	// ETagMode is "weak", "strong", "" (disabled), or a custom function
	// set directly on Application.ETagFunc.
	ETagMode string `mapstructure:"etag"`

	XPoweredBy bool `mapstructure:"x_powered_by"`

	ViewEngine string `mapstructure:"view_engine"`
	Views string `mapstructure:"views"`
	ViewCache bool `mapstructure:"view_cache"`

	SubdomainOffset int `mapstructure:"subdomain_offset"`

	JSONPCallbackName string `mapstructure:"jsonp_callback_name"`

	Extra map[string]interface{} `mapstructure:"-"`
}

// defaultSettings returns the Settings with their documented defaults,
// mirroring air's New's defaulted Air struct literal.
func defaultSettings() Settings {
	return Settings{
		Env:               "development",
		QueryParser:       "extended",
		ETagMode:          "weak",
		XPoweredBy:        true,
		Views:             "views",
		SubdomainOffset:   2,
		JSONPCallbackName: "callback",
		JSON:              JSONSettings{Spaces: 0},
		Extra:             map[string]interface{}{},
	}
}

// Get returns the setting named by key: one of the struct fields above by
// its mapstructure tag, or a value previously stored in Extra. This is
// Express's app.get(name) read form.
func (s *Settings) Get(key string) (interface{}, bool) {
	switch key {
	case "case_sensitive_routing":
		return s.CaseSensitiveRouting, true
	case "strict_routing":
		return s.StrictRouting, true
	case "env":
		return s.Env, true
	case "trust_proxy":
		return s.TrustProxy, true
	case "query_parser":
		return s.QueryParser, true
	case "etag":
		return s.ETagMode, true
	case "x_powered_by":
		return s.XPoweredBy, true
	case "view_engine":
		return s.ViewEngine, true
	case "views":
		return s.Views, true
	case "view_cache":
		return s.ViewCache, true
	case "subdomain_offset":
		return s.SubdomainOffset, true
	case "jsonp_callback_name":
		return s.JSONPCallbackName, true
	}

	v, ok := s.Extra[key]
	return v, ok
}

// Set stores value for key. Recognized keys update the matching typed
// field; unrecognized keys are stored in Extra with no observable effect.
func (s *Settings) Set(key string, value interface{}) {
	switch key {
	case "case_sensitive_routing":
		s.CaseSensitiveRouting, _ = value.(bool)
	case "strict_routing":
		s.StrictRouting, _ = value.(bool)
	case "env":
		s.Env, _ = value.(string)
	case "trust_proxy":
		s.TrustProxy = value
	case "query_parser":
		s.QueryParser, _ = value.(string)
	case "etag":
		s.ETagMode, _ = value.(string)
	case "x_powered_by":
		s.XPoweredBy, _ = value.(bool)
	case "view_engine":
		s.ViewEngine, _ = value.(string)
	case "views":
		s.Views, _ = value.(string)
	case "view_cache":
		s.ViewCache, _ = value.(bool)
	case "subdomain_offset":
		s.SubdomainOffset, _ = value.(int)
	case "jsonp_callback_name":
		s.JSONPCallbackName, _ = value.(string)
	default:
		if s.Extra == nil {
			s.Extra = map[string]interface{}{}
		}

		s.Extra[key] = value
	}
}

// loadConfigFile reads path and decodes it into dst,
// selecting a decoder by extension exactly as air.Air.Serve does, with
// ".ini" added so every format air's go.mod declares a dependency for is
// actually exercised.
func loadConfigFile(path string, dst interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	m := map[string]interface{}{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(b, &m)
	case ".toml":
		err = toml.Unmarshal(b, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	case ".ini":
		m, err = decodeINI(path)
	default:
		err = fmt.Errorf("weft: unsupported configuration file extension: %s", ext)
	}

	if err != nil {
		return err
	}

	return mapstructure.Decode(m, dst)
}

// decodeINI flattens an INI file's sections into a map suitable for
// mapstructure.Decode, the way the other loaders already produce
// map[string]interface{}.
func decodeINI(path string) (map[string]interface{}, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	m := map[string]interface{}{}
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			m[key.Name()] = key.Value()
		}
	}

	return m, nil
}
