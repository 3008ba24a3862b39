package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone    = "UTC"
	configPathEnv      = "PROPOSAL_TRACKER_CONFIG"
	dataDirEnv         = "PROPOSAL_TRACKER_DATA_DIR"
	logLevelEnv        = "PROPOSAL_TRACKER_LOG_LEVEL"
	archiveDSNEnv      = "DATABASE_DSN"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	openAIModelEnv     = "OPENAI_MODEL"
	githubTokenEnv     = "GITHUB_TOKEN"
	slackWebhookEnv    = "SLACK_WEBHOOK_URL"
	smtpPasswordEnv    = "SMTP_PASSWORD"
	smtpUsernameEnv    = "SMTP_USERNAME"
	httpAddrEnv        = "PROPOSAL_TRACKER_HTTP_ADDR"
	defaultAIEndpoint  = "https://api.openai.com/v1/chat/completions"
	defaultUserAgent   = "ProposalTracker/1.0"
	defaultSlackPerSec = 1.0
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Storage       StorageConfig      `yaml:"storage"`
	Fetcher       FetcherConfig      `yaml:"fetcher"`
	Protocols     []ProtocolConfig   `yaml:"protocols"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications"`
	Archive       ArchiveConfig      `yaml:"archive"`
	HTTP          HTTPConfig         `yaml:"http"`

	path string
}

// Path is the file the config was read from, empty when only defaults apply.
func (c Config) Path() string { return c.path }

// LoggingConfig selects slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig locates the JSON data files.
type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

// FetcherConfig bounds outbound scraping.
type FetcherConfig struct {
	Timeout     Duration `yaml:"timeout"`
	Concurrency int      `yaml:"concurrency"`
	UserAgent   string   `yaml:"userAgent"`
	GitHubToken string   `yaml:"githubToken"`
	// DetailLimit caps how many of the newest proposals get their preamble fetched.
	DetailLimit int `yaml:"detailLimit"`
}

// ProtocolConfig binds a protocol to the scanner strategy that lists it.
type ProtocolConfig struct {
	ID      string            `yaml:"id"`
	Scanner string            `yaml:"scanner"`
	URL     string            `yaml:"url"`
	Options map[string]string `yaml:"options"`
}

// ClassifierConfig defines the impact strategy and, for "ai", how to reach the LLM.
type ClassifierConfig struct {
	Strategy     string   `yaml:"strategy"`
	Endpoint     string   `yaml:"endpoint"`
	Model        string   `yaml:"model"`
	APIKey       string   `yaml:"apiKey"`
	Timeout      Duration `yaml:"timeout"`
	SystemPrompt string   `yaml:"systemPrompt"`
}

// SchedulerConfig defines the timezone schedules are evaluated in.
type SchedulerConfig struct {
	Timezone    string         `yaml:"timezone"`
	StopTimeout Duration       `yaml:"stopTimeout"`
	location    *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Desktop DesktopConfig `yaml:"desktop"`
	Email   EmailConfig   `yaml:"email"`
	Slack   SlackConfig   `yaml:"slack"`
}

// DesktopConfig toggles OS toast notifications.
type DesktopConfig struct {
	Enabled bool `yaml:"enabled"`
}

// EmailConfig wires all data required to send SMTP mail.
type EmailConfig struct {
	Enabled    bool     `yaml:"enabled"`
	SMTPHost   string   `yaml:"smtpHost"`
	SMTPPort   int      `yaml:"smtpPort"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// Ready reports whether the email channel has enough settings to send.
func (e EmailConfig) Ready() bool {
	return e.Enabled && e.SMTPHost != "" && e.From != "" && len(e.Recipients) > 0
}

// SlackConfig wires the incoming webhook.
type SlackConfig struct {
	Enabled       bool    `yaml:"enabled"`
	WebhookURL    string  `yaml:"webhookUrl"`
	RatePerSecond float64 `yaml:"ratePerSecond"`
	MaxRetries    int     `yaml:"maxRetries"`
}

// Ready reports whether the Slack channel can post.
func (s SlackConfig) Ready() bool {
	return s.Enabled && s.WebhookURL != ""
}

// ArchiveConfig selects the SQL database assessments are archived to.
type ArchiveConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// HTTPConfig configures the control API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML accepts "30s" style strings or plain seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads YAML configuration from the env-provided path (if present) and applies environment overrides.
func Load() Config {
	return LoadFrom(os.Getenv(configPathEnv))
}

// LoadFrom reads YAML configuration from path; an empty path yields defaults plus env overrides.
func LoadFrom(path string) Config {
	cfg := defaultConfig()

	if path != "" {
		cfg.path = path
		if fileCfg, err := readFile(path); err != nil {
			log.Printf("config: %v (falling back to defaults)", err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Protocols) == 0 {
		cfg.Protocols = defaultConfig().Protocols
	}

	return cfg
}

func readFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var fileCfg Config
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	return fileCfg, nil
}

// Protocol returns the protocol binding for id, if configured.
func (c Config) Protocol(id string) (ProtocolConfig, bool) {
	for _, p := range c.Protocols {
		if p.ID == id {
			return p, true
		}
	}
	return ProtocolConfig{}, false
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dataDirEnv); v != "" {
		c.Storage.DataDir = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(archiveDSNEnv); v != "" {
		c.Archive.DSN = v
	}

	if v := os.Getenv(openAIAPIKeyEnv); v != "" {
		c.Classifier.APIKey = v
	}

	if v := os.Getenv(openAIModelEnv); v != "" {
		c.Classifier.Model = v
	}

	if v := os.Getenv(githubTokenEnv); v != "" {
		c.Fetcher.GitHubToken = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}

	c.Notifications.applyEnvOverrides()
}

func (n *NotificationConfig) applyEnvOverrides() {
	if v := os.Getenv(slackWebhookEnv); v != "" {
		n.Slack.WebhookURL = v
	}

	if v := os.Getenv(smtpUsernameEnv); v != "" {
		n.Email.Username = v
	}

	if v := os.Getenv(smtpPasswordEnv); v != "" {
		n.Email.Password = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Storage.DataDir != "" {
		base.Storage.DataDir = override.Storage.DataDir
	}

	if override.Fetcher.Timeout > 0 {
		base.Fetcher.Timeout = override.Fetcher.Timeout
	}
	if override.Fetcher.Concurrency > 0 {
		base.Fetcher.Concurrency = override.Fetcher.Concurrency
	}
	if override.Fetcher.UserAgent != "" {
		base.Fetcher.UserAgent = override.Fetcher.UserAgent
	}
	if override.Fetcher.GitHubToken != "" {
		base.Fetcher.GitHubToken = override.Fetcher.GitHubToken
	}
	if override.Fetcher.DetailLimit > 0 {
		base.Fetcher.DetailLimit = override.Fetcher.DetailLimit
	}

	if len(override.Protocols) > 0 {
		base.Protocols = override.Protocols
	}

	if override.Classifier.Strategy != "" {
		base.Classifier.Strategy = override.Classifier.Strategy
	}
	if override.Classifier.Endpoint != "" {
		base.Classifier.Endpoint = override.Classifier.Endpoint
	}
	if override.Classifier.Model != "" {
		base.Classifier.Model = override.Classifier.Model
	}
	if override.Classifier.APIKey != "" {
		base.Classifier.APIKey = override.Classifier.APIKey
	}
	if override.Classifier.Timeout > 0 {
		base.Classifier.Timeout = override.Classifier.Timeout
	}
	if override.Classifier.SystemPrompt != "" {
		base.Classifier.SystemPrompt = override.Classifier.SystemPrompt
	}

	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if override.Scheduler.StopTimeout > 0 {
		base.Scheduler.StopTimeout = override.Scheduler.StopTimeout
	}

	base.Notifications = mergeNotifications(base.Notifications, override.Notifications)

	if override.Archive.Driver != "" {
		base.Archive.Driver = override.Archive.Driver
	}
	if override.Archive.DSN != "" {
		base.Archive.DSN = override.Archive.DSN
	}

	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}

	return base
}

func mergeNotifications(base, override NotificationConfig) NotificationConfig {
	base.Desktop.Enabled = override.Desktop.Enabled

	base.Email.Enabled = override.Email.Enabled
	if override.Email.SMTPHost != "" {
		base.Email.SMTPHost = override.Email.SMTPHost
	}
	if override.Email.SMTPPort > 0 {
		base.Email.SMTPPort = override.Email.SMTPPort
	}
	if override.Email.Username != "" {
		base.Email.Username = override.Email.Username
	}
	if override.Email.Password != "" {
		base.Email.Password = override.Email.Password
	}
	if override.Email.From != "" {
		base.Email.From = override.Email.From
	}
	if len(override.Email.Recipients) > 0 {
		base.Email.Recipients = override.Email.Recipients
	}

	base.Slack.Enabled = override.Slack.Enabled
	if override.Slack.WebhookURL != "" {
		base.Slack.WebhookURL = override.Slack.WebhookURL
	}
	if override.Slack.RatePerSecond > 0 {
		base.Slack.RatePerSecond = override.Slack.RatePerSecond
	}
	if override.Slack.MaxRetries > 0 {
		base.Slack.MaxRetries = override.Slack.MaxRetries
	}

	return base
}

func defaultNotifications() NotificationConfig {
	return NotificationConfig{
		Desktop: DesktopConfig{Enabled: false},
		Email:   EmailConfig{SMTPPort: 587},
		Slack:   SlackConfig{RatePerSecond: defaultSlackPerSec, MaxRetries: 3},
	}
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{DataDir: "data"},
		Fetcher: FetcherConfig{
			Timeout:     Duration(30 * time.Second),
			Concurrency: 4,
			UserAgent:   defaultUserAgent,
			DetailLimit: 25,
		},
		Protocols: []ProtocolConfig{
			{ID: "ethereum", Scanner: "eips", URL: "https://eips.ethereum.org/all"},
			{ID: "bitcoin", Scanner: "github", URL: "https://github.com/bitcoin/bips", Options: map[string]string{"pattern": `^bip-(\d+)\.(mediawiki|md)$`}},
			{ID: "tron", Scanner: "github", URL: "https://github.com/tronprotocol/tips", Options: map[string]string{"pattern": `^tip-(\d+)\.md$`}},
			{ID: "binance_smart_chain", Scanner: "github", URL: "https://github.com/bnb-chain/BEPs", Options: map[string]string{"pattern": `^(?:BEP|bep)-?(\d+)\.md$`, "dir": "BEPs"}},
		},
		Classifier: ClassifierConfig{
			Strategy: "rules",
			Endpoint: defaultAIEndpoint,
			Model:    "gpt-4o-mini",
			Timeout:  Duration(20 * time.Second),
		},
		Scheduler:     SchedulerConfig{Timezone: defaultTimezone, StopTimeout: Duration(5 * time.Second), location: tz},
		Notifications: defaultNotifications(),
		Archive:       ArchiveConfig{Driver: "sqlite", DSN: ""},
		HTTP:          HTTPConfig{Addr: ":8080"},
	}
}
