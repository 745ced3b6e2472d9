// Package config loads application configuration from file, environment
// and .env.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Veraticus/subscription-copilot/internal/classification"
	"github.com/Veraticus/subscription-copilot/internal/common"
	"github.com/Veraticus/subscription-copilot/internal/gmail"
	"github.com/Veraticus/subscription-copilot/internal/nordigen"
	"github.com/Veraticus/subscription-copilot/internal/plaid"
	"github.com/Veraticus/subscription-copilot/internal/sheets"
)

// EnvPrefix prefixes every environment override, e.g. SUBS_GMAIL_CLIENT_ID.
const EnvPrefix = "SUBS"

// Config is the full application configuration.
type Config struct {
	Gmail      GmailConfig      `mapstructure:"gmail"`
	Plaid      PlaidConfig      `mapstructure:"plaid"`
	Nordigen   NordigenConfig   `mapstructure:"nordigen"`
	Server     ServerConfig     `mapstructure:"server"`
	Sheets     SheetsConfig     `mapstructure:"sheets"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	SimpleFIN  SimpleFINConfig  `mapstructure:"simplefin"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Heuristics HeuristicsConfig `mapstructure:"heuristics"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GmailConfig holds the OAuth client and search settings.
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
	TokenFile    string `mapstructure:"token_file"`
	QueryWindow  string `mapstructure:"query_window"`
	MaxMessages  int    `mapstructure:"max_messages"`
}

// PlaidConfig holds Plaid API credentials.
type PlaidConfig struct {
	ClientID    string `mapstructure:"client_id"`
	Secret      string `mapstructure:"secret"`
	Environment string `mapstructure:"environment"`
	AccessToken string `mapstructure:"access_token"`
}

// NordigenConfig holds GoCardless Bank Account Data credentials.
type NordigenConfig struct {
	SecretID      string `mapstructure:"secret_id"`
	SecretKey     string `mapstructure:"secret_key"`
	BaseURL       string `mapstructure:"base_url"`
	RequisitionID string `mapstructure:"requisition_id"`
	RedirectURL   string `mapstructure:"redirect_url"`
}

// SimpleFINConfig holds the bridge setup token.
type SimpleFINConfig struct {
	Token     string `mapstructure:"token"`
	StateFile string `mapstructure:"state_file"`
}

// ServerConfig controls the HTTP boundary.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// HeuristicsConfig points at an optional YAML override of the detection tables.
type HeuristicsConfig struct {
	Path string `mapstructure:"path"`
}

// SheetsConfig holds Google Sheets export settings.
type SheetsConfig struct {
	ClientID           string `mapstructure:"client_id"`
	ClientSecret       string `mapstructure:"client_secret"`
	RefreshToken       string `mapstructure:"refresh_token"`
	ServiceAccountPath string `mapstructure:"service_account_path"`
	SpreadsheetID      string `mapstructure:"spreadsheet_id"`
	SpreadsheetName    string `mapstructure:"spreadsheet_name"`
	SheetTitle         string `mapstructure:"sheet_title"`
	TimeZone           string `mapstructure:"timezone"`
}

// SetDefaults registers every key so environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	dir := DefaultDir()
	sheetDefaults := sheets.DefaultConfig()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("gmail.redirect_url", "http://localhost:3001/api/auth/google/callback")
	v.SetDefault("gmail.token_file", filepath.Join(dir, "gmail_token.json"))
	v.SetDefault("gmail.query_window", gmail.DefaultWindow)
	v.SetDefault("gmail.max_messages", 500)

	v.SetDefault("plaid.client_id", "")
	v.SetDefault("plaid.secret", "")
	v.SetDefault("plaid.environment", "sandbox")
	v.SetDefault("plaid.access_token", "")

	v.SetDefault("nordigen.secret_id", "")
	v.SetDefault("nordigen.secret_key", "")
	v.SetDefault("nordigen.base_url", nordigen.DefaultBaseURL)
	v.SetDefault("nordigen.requisition_id", "")
	v.SetDefault("nordigen.redirect_url", "http://localhost:3000/bank/callback")

	v.SetDefault("simplefin.token", "")
	v.SetDefault("simplefin.state_file", filepath.Join(dir, "simplefin_auth.json"))

	v.SetDefault("server.addr", ":3001")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.session_ttl", 24*time.Hour)

	v.SetDefault("database.path", filepath.Join(dir, "subs.db"))
	v.SetDefault("heuristics.path", "")

	v.SetDefault("sheets.client_id", "")
	v.SetDefault("sheets.client_secret", "")
	v.SetDefault("sheets.refresh_token", "")
	v.SetDefault("sheets.service_account_path", "")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.spreadsheet_name", sheetDefaults.SpreadsheetName)
	v.SetDefault("sheets.sheet_title", sheetDefaults.SheetTitle)
	v.SetDefault("sheets.timezone", sheetDefaults.TimeZone)
}

// Prepare points v at the config file and environment. An empty cfgFile
// searches $HOME/.config/subs and the working directory for config.yaml.
// A .env file in the working directory is loaded first; it never overrides
// variables already set.
func Prepare(v *viper.Viper, cfgFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(ExpandPath(cfgFile))
	} else {
		v.AddConfigPath(DefaultDir())
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}
	return nil
}

// Load prepares v and decodes it into a validated Config.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if err := Prepare(v, cfgFile); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals an already prepared viper instance.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Gmail.TokenFile = ExpandPath(cfg.Gmail.TokenFile)
	cfg.SimpleFIN.StateFile = ExpandPath(cfg.SimpleFIN.StateFile)
	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Heuristics.Path = ExpandPath(cfg.Heuristics.Path)
	cfg.Sheets.ServiceAccountPath = ExpandPath(cfg.Sheets.ServiceAccountPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that every command depends on. Provider
// sections are checked when the provider is used.
func (c *Config) Validate() error {
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: invalid log format %q", common.ErrInvalidConfig, c.Logging.Format)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path: %w", common.ErrMissingConfig)
	}
	if c.Gmail.MaxMessages < 0 {
		return fmt.Errorf("%w: gmail.max_messages cannot be negative", common.ErrInvalidConfig)
	}
	return nil
}

// GmailOAuth returns the Gmail OAuth client settings.
func (c *Config) GmailOAuth() gmail.OAuthConfig {
	return gmail.OAuthConfig{
		ClientID:     c.Gmail.ClientID,
		ClientSecret: c.Gmail.ClientSecret,
		RedirectURL:  c.Gmail.RedirectURL,
		TokenFile:    c.Gmail.TokenFile,
	}
}

// GmailOptions returns fetcher options derived from the tables and settings.
func (c *Config) GmailOptions(h *classification.Heuristics) []gmail.Option {
	opts := []gmail.Option{
		gmail.WithQuery(gmail.BuildQuery(h.KnownSenders(), h.Keywords(), c.Gmail.QueryWindow)),
	}
	if c.Gmail.MaxMessages > 0 {
		opts = append(opts, gmail.WithMaxMessages(c.Gmail.MaxMessages))
	}
	return opts
}

// PlaidClient returns the Plaid client settings.
func (c *Config) PlaidClient() plaid.Config {
	return plaid.Config{
		ClientID:    c.Plaid.ClientID,
		Secret:      c.Plaid.Secret,
		Environment: c.Plaid.Environment,
		AccessToken: c.Plaid.AccessToken,
	}
}

// NordigenClient returns the GoCardless client settings.
func (c *Config) NordigenClient() nordigen.Config {
	return nordigen.Config{
		SecretID:      c.Nordigen.SecretID,
		SecretKey:     c.Nordigen.SecretKey,
		BaseURL:       c.Nordigen.BaseURL,
		RequisitionID: c.Nordigen.RequisitionID,
		RedirectURL:   c.Nordigen.RedirectURL,
	}
}

// SheetsWriter returns the export settings on top of the writer defaults.
func (c *Config) SheetsWriter() sheets.Config {
	cfg := sheets.DefaultConfig()
	cfg.ClientID = c.Sheets.ClientID
	cfg.ClientSecret = c.Sheets.ClientSecret
	cfg.RefreshToken = c.Sheets.RefreshToken
	cfg.ServiceAccountPath = c.Sheets.ServiceAccountPath
	cfg.SpreadsheetID = c.Sheets.SpreadsheetID
	if c.Sheets.SpreadsheetName != "" {
		cfg.SpreadsheetName = c.Sheets.SpreadsheetName
	}
	if c.Sheets.SheetTitle != "" {
		cfg.SheetTitle = c.Sheets.SheetTitle
	}
	if c.Sheets.TimeZone != "" {
		cfg.TimeZone = c.Sheets.TimeZone
	}
	return cfg
}

// LoadHeuristics loads the detection tables from heuristics.path, or the
// built-in tables when unset.
func (c *Config) LoadHeuristics() (*classification.Heuristics, error) {
	if c.Heuristics.Path == "" {
		return classification.DefaultHeuristics()
	}
	h, err := classification.LoadTablesFile(c.Heuristics.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load heuristics from %s: %w", c.Heuristics.Path, err)
	}
	return h, nil
}

// GmailConfigured reports whether Gmail OAuth credentials are set.
func (c *Config) GmailConfigured() bool {
	return c.GmailOAuth().Validate() == nil
}

// PlaidConfigured reports whether Plaid API credentials are set.
func (c *Config) PlaidConfigured() bool {
	return c.Plaid.ClientID != "" && c.Plaid.Secret != ""
}

// NordigenConfigured reports whether GoCardless credentials are set.
func (c *Config) NordigenConfigured() bool {
	return c.Nordigen.SecretID != "" && c.Nordigen.SecretKey != ""
}
