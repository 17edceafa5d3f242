package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"tracker": {"base_url": "https://jira.example.com", "username": "me", "api_token": "from-file"},
		"queries": [{"sheet": "Daily", "query": "project = CAM", "filter": "Status != \"Done\""}],
		"settings": {"highlight_days": 5, "recent_comments_count": 2, "merge": true, "remark_column": true},
		"output": {"directory": "out"}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := &Config{
		Tracker: TrackerConfig{Kind: TrackerJira, BaseURL: "https://jira.example.com", Username: "me", APIToken: "from-file"},
		Queries: []QueryConfig{{Sheet: "Daily", Query: "project = CAM", Filter: `Status != "Done"`}},
		Settings: SettingsConfig{
			MaxResults:          DefaultMaxResults,
			HighlightDays:       5,
			RecentCommentsCount: 2,
			Workers:             DefaultWorkers,
			TimestampField:      "updated",
			Merge:               true,
			RemarkColumn:        true,
		},
		Output: OutputConfig{
			Format:         FormatXLSX,
			Directory:      filepath.Join(filepath.Dir(path), "out"),
			FileNamePrefix: DefaultFileNamePrefix,
			HighlightColor: DefaultHighlightColor,
		},
		Cache: CacheConfig{TTLSeconds: DefaultCacheTTLSeconds},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
tracker:
  kind: github
queries:
  - sheet: Bugs
    query: "repo:example/app is:issue label:bug"
settings:
  workers: 4
  timestamp_field: created
  timezone: Asia/Taipei
output:
  format: sqlite
  directory: /var/reports
  file_name_prefix: cam
cache:
  redis_url: redis://localhost:6379/0
  ttl_seconds: 60
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Tracker.Kind != TrackerGitHub || cfg.Queries[0].Sheet != "Bugs" {
		t.Errorf("tracker/queries = %+v / %+v", cfg.Tracker, cfg.Queries)
	}
	if cfg.Settings.Workers != 4 || cfg.Settings.TimestampField != "created" {
		t.Errorf("settings = %+v", cfg.Settings)
	}
	if cfg.Output.Format != FormatSQLite || cfg.Output.Directory != "/var/reports" {
		t.Errorf("output = %+v", cfg.Output)
	}
	if cfg.CacheTTL() != time.Minute {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL())
	}

	loc, err := cfg.Location()
	if err != nil || loc.String() != "Asia/Taipei" {
		t.Errorf("Location = %v, %v", loc, err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvJiraToken, "env-token")
	t.Setenv(EnvJiraBearerToken, "env-bearer")
	t.Setenv(EnvRedisURL, "redis://cache:6379/1")
	t.Setenv(EnvGithubToken, "gh-token")

	path := writeFile(t, "config.json", `{
		"tracker": {"base_url": "https://jira.example.com", "api_token": "from-file"},
		"queries": [{"sheet": "S", "query": "q"}]
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tracker.APIToken != "env-token" || cfg.Tracker.BearerToken != "env-bearer" {
		t.Errorf("tracker = %+v", cfg.Tracker)
	}
	if cfg.Cache.RedisURL != "redis://cache:6379/1" {
		t.Errorf("redis url = %q", cfg.Cache.RedisURL)
	}

	gh := writeFile(t, "gh.json", `{"tracker": {"kind": "github"}, "queries": [{"sheet": "S", "query": "q"}]}`)
	cfg, err = LoadConfig(gh)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tracker.APIToken != "gh-token" {
		t.Errorf("github token = %q", cfg.Tracker.APIToken)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{
			Tracker: TrackerConfig{BaseURL: "https://jira.example.com"},
			Queries: []QueryConfig{{Sheet: "S", Query: "q"}},
		}
		c.applyDefaults()
		return c
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown tracker", func(c *Config) { c.Tracker.Kind = "trello" }, "unknown tracker kind"},
		{"missing base url", func(c *Config) { c.Tracker.BaseURL = "" }, "base_url"},
		{"no queries", func(c *Config) { c.Queries = nil }, "at least one query"},
		{"empty sheet", func(c *Config) { c.Queries[0].Sheet = "" }, "must not be empty"},
		{"duplicate sheet", func(c *Config) { c.Queries = append(c.Queries, QueryConfig{Sheet: "S", Query: "other"}) }, "duplicate sheet"},
		{"page size over limit", func(c *Config) { c.Settings.MaxResults = 150 }, "max_results"},
		{"negative highlight", func(c *Config) { c.Settings.HighlightDays = -1 }, "highlight_days"},
		{"bad timestamp field", func(c *Config) { c.Settings.TimestampField = "resolved" }, "timestamp_field"},
		{"bad timezone", func(c *Config) { c.Settings.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad format", func(c *Config) { c.Output.Format = "csv" }, "output format"},
		{"publish without bucket", func(c *Config) { c.Publish.Endpoint = "s3.example.com" }, "publish.bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestReportPath(t *testing.T) {
	c := &Config{Output: OutputConfig{Directory: "/out", FileNamePrefix: "cam", Format: FormatXLSX}}
	at := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)

	if got := c.ReportPath(at); got != "/out/cam_jira_issues_03-05_14.07.xlsx" {
		t.Errorf("non-merge path = %q", got)
	}

	c.Settings.Merge = true
	if got := c.ReportPath(at); got != "/out/cam_jira_issues.xlsx" {
		t.Errorf("merge path = %q", got)
	}

	c.Output.Format = FormatSQLite
	if got := c.ReportPath(at); got != "/out/cam_jira_issues.db" {
		t.Errorf("sqlite path = %q", got)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	for _, name := range []string{"config.json", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			if err := CreateDefaultConfig(path); err != nil {
				t.Fatalf("CreateDefaultConfig: %v", err)
			}

			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig of default config: %v", err)
			}
			if cfg.Settings.HighlightDays != DefaultHighlightDays || !cfg.Settings.Merge {
				t.Errorf("settings = %+v", cfg.Settings)
			}
			if cfg.Output.Directory != filepath.Join(filepath.Dir(path), "reports") {
				t.Errorf("output directory = %q", cfg.Output.Directory)
			}
		})
	}
}

func TestCreateDefaultConfigKeepsExisting(t *testing.T) {
	path := writeFile(t, "config.json", `{"custom": true}`)
	if err := CreateDefaultConfig(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != `{"custom": true}` {
		t.Errorf("existing config overwritten: %s", data)
	}
}
