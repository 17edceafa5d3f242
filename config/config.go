package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/goccy/go-yaml"
)

const (
	// EnvJiraToken is the environment variable name for the Jira API token
	EnvJiraToken = "JIM_JIRA_TOKEN"
	// EnvJiraBearerToken is the environment variable name for a Jira personal access token
	EnvJiraBearerToken = "JIM_JIRA_BEARER_TOKEN"
	// EnvGithubToken is the environment variable name for the GitHub API token
	EnvGithubToken = "JIM_GITHUB_TOKEN"
	// EnvRedisURL is the environment variable name for the comment cache URL
	EnvRedisURL = "JIM_REDIS_URL"
)

// Tracker kinds
const (
	TrackerJira   = "jira"
	TrackerGitHub = "github"
)

// Output formats
const (
	FormatXLSX   = "xlsx"
	FormatSQLite = "sqlite"
)

// MaxResultsLimit is the largest page size the trackers serve
const MaxResultsLimit = 100

// Defaults applied by LoadConfig
const (
	DefaultMaxResults          = 50
	DefaultHighlightDays       = 3
	DefaultRecentCommentsCount = 3
	DefaultWorkers             = 20
	DefaultTimestampField      = "updated"
	DefaultFileNamePrefix      = "report"
	DefaultHighlightColor      = "0000FF"
	DefaultCacheTTLSeconds     = 3600
)

// Config represents the application configuration
type Config struct {
	Tracker  TrackerConfig  `json:"tracker" yaml:"tracker"`
	Queries  []QueryConfig  `json:"queries" yaml:"queries"`
	Settings SettingsConfig `json:"settings" yaml:"settings"`
	Output   OutputConfig   `json:"output" yaml:"output"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Publish  PublishConfig  `json:"publish" yaml:"publish"`
}

// TrackerConfig says where issues come from
type TrackerConfig struct {
	// Kind is "jira" (default) or "github"
	Kind    string `json:"kind" yaml:"kind"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	// Username and APIToken are used for basic auth (can be set via JIM_JIRA_TOKEN)
	Username string `json:"username" yaml:"username"`
	APIToken string `json:"api_token" yaml:"api_token"`
	// BearerToken takes precedence over basic auth when set
	BearerToken string `json:"bearer_token" yaml:"bearer_token"`
}

// QueryConfig is one named query synced into the sheet of the same name
type QueryConfig struct {
	Sheet string `json:"sheet" yaml:"sheet"`
	Query string `json:"query" yaml:"query"`
	// Filter is an optional row expression, e.g. `Status != "Done"`
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// SettingsConfig tunes the sync
type SettingsConfig struct {
	MaxResults          int `json:"max_results" yaml:"max_results"`
	HighlightDays       int `json:"highlight_days" yaml:"highlight_days"`
	RecentCommentsCount int `json:"recent_comments_count" yaml:"recent_comments_count"`
	Workers             int `json:"workers" yaml:"workers"`
	// TimestampField is "updated" or "created"
	TimestampField string `json:"timestamp_field" yaml:"timestamp_field"`
	// Merge reuses one report file across runs instead of writing a new
	// timestamped file each time
	Merge        bool `json:"merge" yaml:"merge"`
	RemarkColumn bool `json:"remark_column" yaml:"remark_column"`
	// Timezone is an IANA name; empty means the local zone
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// OutputConfig says where the report is written
type OutputConfig struct {
	// Format is "xlsx" (default) or "sqlite"
	Format         string `json:"format" yaml:"format"`
	Directory      string `json:"directory" yaml:"directory"`
	FileNamePrefix string `json:"file_name_prefix" yaml:"file_name_prefix"`
	HighlightColor string `json:"highlight_color" yaml:"highlight_color"`
}

// CacheConfig selects the comment cache; without a redis URL comments are
// cached in memory for the run
type CacheConfig struct {
	RedisURL   string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// PublishConfig uploads the finished report when Endpoint is set
type PublishConfig struct {
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	Bucket    string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty" yaml:"use_ssl,omitempty"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty"`
}

// LoadConfig loads the configuration from a JSON or YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &config)
	} else {
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	// Make output directory absolute if it's relative
	if !filepath.IsAbs(config.Output.Directory) {
		configDir := filepath.Dir(path)
		config.Output.Directory = filepath.Join(configDir, config.Output.Directory)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvJiraBearerToken); v != "" {
		c.Tracker.BearerToken = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Cache.RedisURL = v
	}

	tokenVar := EnvJiraToken
	if c.Tracker.Kind == TrackerGitHub {
		tokenVar = EnvGithubToken
	}
	if v := os.Getenv(tokenVar); v != "" {
		c.Tracker.APIToken = v
	}
}

func (c *Config) applyDefaults() {
	if c.Tracker.Kind == "" {
		c.Tracker.Kind = TrackerJira
	}
	if c.Settings.MaxResults == 0 {
		c.Settings.MaxResults = DefaultMaxResults
	}
	if c.Settings.Workers == 0 {
		c.Settings.Workers = DefaultWorkers
	}
	if c.Settings.TimestampField == "" {
		c.Settings.TimestampField = DefaultTimestampField
	}
	if c.Output.Format == "" {
		c.Output.Format = FormatXLSX
	}
	if c.Output.Directory == "" {
		c.Output.Directory = "."
	}
	if c.Output.FileNamePrefix == "" {
		c.Output.FileNamePrefix = DefaultFileNamePrefix
	}
	if c.Output.HighlightColor == "" {
		c.Output.HighlightColor = DefaultHighlightColor
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = DefaultCacheTTLSeconds
	}
}

// Validate checks that the configuration can drive a sync
func (c *Config) Validate() error {
	switch c.Tracker.Kind {
	case TrackerJira:
		if c.Tracker.BaseURL == "" {
			return fmt.Errorf("tracker.base_url must not be empty")
		}
	case TrackerGitHub:
	default:
		return fmt.Errorf("unknown tracker kind %q", c.Tracker.Kind)
	}

	if len(c.Queries) == 0 {
		return errors.New("at least one query is required")
	}
	seen := make(map[string]bool, len(c.Queries))
	for i, q := range c.Queries {
		if q.Sheet == "" || q.Query == "" {
			return fmt.Errorf("queries[%d]: sheet and query must not be empty", i)
		}
		if seen[q.Sheet] {
			return fmt.Errorf("queries[%d]: duplicate sheet %q", i, q.Sheet)
		}
		seen[q.Sheet] = true
	}

	if c.Settings.MaxResults < 1 || c.Settings.MaxResults > MaxResultsLimit {
		return fmt.Errorf("settings.max_results must be between 1 and %d, got %d", MaxResultsLimit, c.Settings.MaxResults)
	}
	if c.Settings.HighlightDays < 0 {
		return fmt.Errorf("settings.highlight_days must not be negative, got %d", c.Settings.HighlightDays)
	}
	if c.Settings.Workers < 1 {
		return fmt.Errorf("settings.workers must be positive, got %d", c.Settings.Workers)
	}
	if f := c.Settings.TimestampField; f != "updated" && f != "created" {
		return fmt.Errorf("settings.timestamp_field must be \"updated\" or \"created\", got %q", f)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.Output.Format {
	case FormatXLSX, FormatSQLite:
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}

	if c.Publish.Endpoint != "" && c.Publish.Bucket == "" {
		return errors.New("publish.bucket is required when publish.endpoint is set")
	}

	return nil
}

// Location returns the time zone used for report timestamps
func (c *Config) Location() (*time.Location, error) {
	if c.Settings.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Settings.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid settings.timezone %q: %w", c.Settings.Timezone, err)
	}
	return loc, nil
}

// CacheTTL returns how long cached comments live in redis
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ReportPath returns the report file for a run started at now. In merge
// mode the name is stable so every run updates the same file.
func (c *Config) ReportPath(now time.Time) string {
	ext := ".xlsx"
	if c.Output.Format == FormatSQLite {
		ext = ".db"
	}

	name := c.Output.FileNamePrefix + "_jira_issues"
	if !c.Settings.Merge {
		name += "_" + now.Format("01-02_15.04")
	}
	return filepath.Join(c.Output.Directory, name+ext)
}

// SaveConfig saves the configuration to a JSON or YAML file
func SaveConfig(config *Config, path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(config)
	} else {
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	// Check if the file already exists
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	// Create default config
	config := &Config{
		Tracker: TrackerConfig{
			Kind:     TrackerJira,
			BaseURL:  "https://your-domain.atlassian.net",
			Username: "you@example.com",
		},
		Queries: []QueryConfig{
			{Sheet: "Open Issues", Query: "project = PROJ AND statusCategory != Done ORDER BY updated DESC"},
		},
		Settings: SettingsConfig{
			MaxResults:          DefaultMaxResults,
			HighlightDays:       DefaultHighlightDays,
			RecentCommentsCount: DefaultRecentCommentsCount,
			Workers:             DefaultWorkers,
			TimestampField:      DefaultTimestampField,
			Merge:               true,
			RemarkColumn:        true,
		},
		Output: OutputConfig{
			Format:         FormatXLSX,
			Directory:      "reports",
			FileNamePrefix: DefaultFileNamePrefix,
			HighlightColor: DefaultHighlightColor,
		},
	}

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Save the config
	return SaveConfig(config, path)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
