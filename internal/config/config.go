package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DestinationGoogle = "google"
	DestinationCalDAV = "caldav"

	StrategyReplace   = "replace"
	StrategyReconcile = "reconcile"

	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"

	AuthModeAuto    = "auto"
	AuthModeBrowser = "browser"
	AuthModeManual  = "manual"
	AuthModeNone    = "none"
)

const (
	defaultWindowDays      = 40
	defaultTokenPath       = "token.json"
	defaultCredentialsPath = "credentials.json"
	defaultKeyringService  = "calmirror"
)

// ConfigError reports a missing or malformed configuration value.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "invalid config"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// GoogleCredentials represents the structure of Google OAuth credentials JSON file.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads Google OAuth credentials from a JSON file.
// A missing or unusable file is a *ConfigError like any other bad setting,
// so it fails before any network call is made.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", &ConfigError{Field: "google_credentials_path", Reason: "failed to read credentials file", Err: err}
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", &ConfigError{Field: "google_credentials_path", Reason: "failed to parse credentials file", Err: err}
	}

	// Try "installed" first (for desktop apps), then "web"
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}

	return "", "", &ConfigError{Field: "google_credentials_path", Reason: "no client_id found in credentials file (expected 'installed' or 'web' section)"}
}

// Destination describes the calendar that receives the mirrored events.
type Destination struct {
	Type       string `json:"type,omitempty" yaml:"type,omitempty"`               // "google" or "caldav"
	CalendarID string `json:"calendar_id,omitempty" yaml:"calendar_id,omitempty"` // Google calendar ID or CalDAV collection path
	TokenPath  string `json:"token_path,omitempty" yaml:"token_path,omitempty"`   // Google only; empty reuses the source account

	// CalDAV specific fields
	ServerURL string `json:"server_url,omitempty" yaml:"server_url,omitempty"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Config holds the configuration for a mirror run.
type Config struct {
	SourceCalendarID string            `json:"source_calendar_id,omitempty" yaml:"source_calendar_id,omitempty"`
	Destination      Destination       `json:"destination" yaml:"destination"`
	WindowDays       int               `json:"window_days,omitempty" yaml:"window_days,omitempty"`
	RenameTable      map[string]string `json:"rename_table,omitempty" yaml:"rename_table,omitempty"`
	ApplyRename      *bool             `json:"apply_rename,omitempty" yaml:"apply_rename,omitempty"`
	Strategy         string            `json:"strategy,omitempty" yaml:"strategy,omitempty"`

	TokenPath             string `json:"token_path,omitempty" yaml:"token_path,omitempty"`
	TokenStore            string `json:"token_store,omitempty" yaml:"token_store,omitempty"`
	KeyringService        string `json:"keyring_service,omitempty" yaml:"keyring_service,omitempty"`
	GoogleCredentialsPath string `json:"google_credentials_path,omitempty" yaml:"google_credentials_path,omitempty"`
	AuthMode              string `json:"auth_mode,omitempty" yaml:"auth_mode,omitempty"`

	MetricsFile string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`
}

// RenameEnabled reports whether titles should be rewritten through RenameTable.
func (c *Config) RenameEnabled() bool {
	if c.ApplyRename == nil {
		return true
	}
	return *c.ApplyRename
}

// Overrides carries command-line values; empty fields leave the loaded value alone.
type Overrides struct {
	TokenPath             string
	GoogleCredentialsPath string
	SourceCalendarID      string
	DestinationCalendarID string
	WindowDays            int
	MetricsFile           string
}

// LoadConfigFromFile loads configuration from a YAML (.yaml, .yml) or JSON file.
// Unknown fields are rejected so typos surface as a ConfigError.
func LoadConfigFromFile(path string) (*Config, error) {
	var config Config
	if err := decodeConfigFile(path, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// decodeConfigFile decodes path over config. Keys absent from the file leave
// the existing values alone.
func decodeConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Field: "config", Reason: "failed to read config file", Err: err}
	}

	var duplicate string
	isYAML := false
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		isYAML = true
		duplicate = duplicateYAMLRenameKey(data)
	default:
		duplicate = duplicateJSONRenameKey(data)
	}
	if duplicate != "" {
		return &ConfigError{Field: "rename_table", Reason: fmt.Sprintf("duplicate key '%s'", duplicate)}
	}

	if isYAML {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return &ConfigError{Field: "config", Reason: "failed to parse config file", Err: err}
		}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(config); err != nil {
		return &ConfigError{Field: "config", Reason: "failed to parse config file", Err: err}
	}
	return nil
}

// duplicateJSONRenameKey returns the first key repeated inside rename_table.
// encoding/json keeps the last value silently. Malformed input returns ""
// and is left for the decoder to report.
func duplicateJSONRenameKey(data []byte) string {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if key, _ := tok.(string); key != "rename_table" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return ""
			}
			continue
		}

		if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
			return ""
		}
		seen := make(map[string]struct{})
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return ""
			}
			name, _ := tok.(string)
			if _, dup := seen[name]; dup {
				return name
			}
			seen[name] = struct{}{}

			var value json.RawMessage
			if err := dec.Decode(&value); err != nil {
				return ""
			}
		}
		return ""
	}
	return ""
}

// duplicateYAMLRenameKey is the YAML counterpart, so both formats report the
// same rename_table error.
func duplicateYAMLRenameKey(data []byte) string {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return ""
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return ""
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "rename_table" {
			continue
		}
		table := root.Content[i+1]
		if table.Kind != yaml.MappingNode {
			return ""
		}
		seen := make(map[string]struct{})
		for j := 0; j+1 < len(table.Content); j += 2 {
			name := table.Content[j].Value
			if _, dup := seen[name]; dup {
				return name
			}
			seen[name] = struct{}{}
		}
	}
	return ""
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// The result is validated; every problem is reported as a *ConfigError.
func LoadConfig(configFile string, flags Overrides) (*Config, error) {
	// An explicit window_days of 0 from the file or environment must reach
	// Validate, so the default is set before any layer is applied.
	config := Config{WindowDays: defaultWindowDays}

	// Step 1: Load from config file if provided
	if configFile != "" {
		if err := decodeConfigFile(configFile, &config); err != nil {
			return nil, err
		}
	}

	// Step 2: Override with environment variables
	if v := os.Getenv("CALMIRROR_TOKEN_PATH"); v != "" {
		config.TokenPath = v
	}
	if v := os.Getenv("GOOGLE_CREDENTIALS_PATH"); v != "" {
		config.GoogleCredentialsPath = v
	}
	if v := os.Getenv("CALMIRROR_SOURCE_CALENDAR"); v != "" {
		config.SourceCalendarID = v
	}
	if v := os.Getenv("CALMIRROR_DESTINATION_CALENDAR"); v != "" {
		config.Destination.CalendarID = v
	}
	if v := os.Getenv("CALMIRROR_WINDOW_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return nil, &ConfigError{Field: "CALMIRROR_WINDOW_DAYS", Reason: "not an integer", Err: err}
		}
		config.WindowDays = days
	}
	if v := os.Getenv("CALMIRROR_METRICS_FILE"); v != "" {
		config.MetricsFile = v
	}
	// Keeps the CalDAV password out of the config file
	if v := os.Getenv("CALDAV_PASSWORD"); v != "" {
		config.Destination.Password = v
	}

	// Step 3: Override with command-line flags (highest priority)
	if flags.TokenPath != "" {
		config.TokenPath = flags.TokenPath
	}
	if flags.GoogleCredentialsPath != "" {
		config.GoogleCredentialsPath = flags.GoogleCredentialsPath
	}
	if flags.SourceCalendarID != "" {
		config.SourceCalendarID = flags.SourceCalendarID
	}
	if flags.DestinationCalendarID != "" {
		config.Destination.CalendarID = flags.DestinationCalendarID
	}
	if flags.WindowDays != 0 {
		config.WindowDays = flags.WindowDays
	}
	if flags.MetricsFile != "" {
		config.MetricsFile = flags.MetricsFile
	}

	// Step 4: Apply defaults and validate
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyReplace
	}
	if c.TokenPath == "" {
		c.TokenPath = defaultTokenPath
	}
	if c.TokenStore == "" {
		c.TokenStore = TokenStoreFile
	}
	if c.KeyringService == "" {
		c.KeyringService = defaultKeyringService
	}
	if c.GoogleCredentialsPath == "" {
		c.GoogleCredentialsPath = defaultCredentialsPath
	}
	if c.AuthMode == "" {
		c.AuthMode = AuthModeAuto
	}
	if c.Destination.Type == "" {
		c.Destination.Type = DestinationGoogle
	}
	if c.RenameTable == nil {
		c.RenameTable = map[string]string{}
	}
}

// Validate checks required fields and enumerations. All problems are joined;
// errors.As finds the first *ConfigError.
func (c *Config) Validate() error {
	var problems []error
	add := func(field, reason string) {
		problems = append(problems, &ConfigError{Field: field, Reason: reason})
	}

	if c.SourceCalendarID == "" {
		add("source_calendar_id", "must be provided via --source-calendar flag, CALMIRROR_SOURCE_CALENDAR environment variable, or config file")
	}
	if c.Destination.CalendarID == "" {
		add("destination.calendar_id", "must be provided via --destination-calendar flag, CALMIRROR_DESTINATION_CALENDAR environment variable, or config file")
	}
	if c.WindowDays <= 0 {
		add("window_days", fmt.Sprintf("must be positive, got %d", c.WindowDays))
	}

	switch c.Strategy {
	case StrategyReplace, StrategyReconcile:
	default:
		add("strategy", fmt.Sprintf("must be '%s' or '%s', got '%s'", StrategyReplace, StrategyReconcile, c.Strategy))
	}

	switch c.TokenStore {
	case TokenStoreFile, TokenStoreKeyring:
	default:
		add("token_store", fmt.Sprintf("must be '%s' or '%s', got '%s'", TokenStoreFile, TokenStoreKeyring, c.TokenStore))
	}

	switch c.AuthMode {
	case AuthModeAuto, AuthModeBrowser, AuthModeManual, AuthModeNone:
	default:
		add("auth_mode", fmt.Sprintf("must be one of auto, browser, manual, none, got '%s'", c.AuthMode))
	}

	dest := c.Destination
	switch dest.Type {
	case DestinationGoogle:
		if dest.TokenPath == "" && dest.CalendarID != "" && dest.CalendarID == c.SourceCalendarID {
			add("destination.calendar_id", "must differ from source_calendar_id when both live in the same account")
		}
		if dest.TokenPath != "" && filepath.Clean(dest.TokenPath) == filepath.Clean(c.TokenPath) {
			add("destination.token_path", "must differ from token_path, or be left empty to reuse the source account")
		}
	case DestinationCalDAV:
		if dest.ServerURL == "" {
			add("destination.server_url", "must be provided for a CalDAV destination")
		}
		if dest.Username == "" {
			add("destination.username", "must be provided for a CalDAV destination")
		}
		if dest.Password == "" {
			add("destination.password", "must be provided for a CalDAV destination (or CALDAV_PASSWORD)")
		}
	default:
		add("destination.type", fmt.Sprintf("must be '%s' or '%s', got '%s'", DestinationGoogle, DestinationCalDAV, dest.Type))
	}

	for _, from := range slices.Sorted(maps.Keys(c.RenameTable)) {
		to := c.RenameTable[from]
		if strings.TrimSpace(from) == "" {
			add("rename_table", "keys must not be empty")
		}
		if strings.TrimSpace(to) == "" {
			add("rename_table", fmt.Sprintf("value for '%s' must not be empty", from))
		}
	}

	return errors.Join(problems...)
}
