package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mail      MailConfig      `mapstructure:"mail"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// MailConfig selects and configures the digest dispatch backend.
type MailConfig struct {
	Backend string      `mapstructure:"backend"` // "gmail" or "smtp"
	Gmail   GmailConfig `mapstructure:"gmail"`
	SMTP    SMTPConfig  `mapstructure:"smtp"`
}

// GmailConfig holds Gmail API credentials for sending digests.
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
}

// SMTPConfig holds plain SMTP credentials for sending digests.
type SMTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from"`
	SenderName string `mapstructure:"sender_name"`
}

// ProvidersConfig holds per-provider enablement and credentials.
type ProvidersConfig struct {
	Ebay          EbayConfig          `mapstructure:"ebay"`
	Amazon        AmazonConfig        `mapstructure:"amazon"`
	Kleinanzeigen KleinanzeigenConfig `mapstructure:"kleinanzeigen"`
}

// EbayConfig holds eBay Browse API configuration.
type EbayConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	Env           string `mapstructure:"env"` // "production" or "sandbox"
	MarketplaceID string `mapstructure:"marketplace_id"`
	Scopes        string `mapstructure:"scopes"`
}

// AmazonConfig holds Amazon PA-API v5 configuration.
type AmazonConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	AssociateTag string `mapstructure:"associate_tag"`
	Market       string `mapstructure:"market"` // "DE", "UK", "US"
}

// KleinanzeigenConfig holds configuration for the unauthenticated scraper.
type KleinanzeigenConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Location        string        `mapstructure:"location"`
	PolitenessDelay time.Duration `mapstructure:"politeness_delay"`
}

// AgentConfig holds the run controller's tunables.
type AgentConfig struct {
	Cooldown        time.Duration `mapstructure:"cooldown"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	MinJobInterval  time.Duration `mapstructure:"min_job_interval"`
	MaxDigestItems  int           `mapstructure:"max_digest_items"`
	PageSize        int           `mapstructure:"page_size"`
	TriggerToken    string        `mapstructure:"trigger_token"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("mail.backend", "smtp")
	viper.SetDefault("mail.smtp.host", "smtp.gmail.com")
	viper.SetDefault("mail.smtp.port", 587)
	viper.SetDefault("mail.smtp.sender_name", "MarketScout")

	viper.SetDefault("providers.ebay.enabled", true)
	viper.SetDefault("providers.ebay.env", "production")
	viper.SetDefault("providers.ebay.marketplace_id", "EBAY_DE")
	viper.SetDefault("providers.ebay.scopes",
		"https://api.ebay.com/oauth/api_scope https://api.ebay.com/oauth/api_scope/buy.browse")
	viper.SetDefault("providers.amazon.enabled", false)
	viper.SetDefault("providers.amazon.market", "DE")
	viper.SetDefault("providers.kleinanzeigen.enabled", false)
	viper.SetDefault("providers.kleinanzeigen.politeness_delay", "2s")

	viper.SetDefault("agent.cooldown", "2h")
	viper.SetDefault("agent.cache_ttl", "60s")
	viper.SetDefault("agent.provider_timeout", "25s")
	viper.SetDefault("agent.min_job_interval", "3m")
	viper.SetDefault("agent.max_digest_items", 20)
	viper.SetDefault("agent.page_size", 50)

	viper.SetDefault("scheduler.interval_minutes", 15)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	viper.BindEnv("mail.backend", "MAIL_BACKEND")
	viper.BindEnv("mail.gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("mail.gmail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("mail.gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("mail.gmail.user_email", "GMAIL_USER_EMAIL")
	viper.BindEnv("mail.smtp.host", "SMTP_HOST")
	viper.BindEnv("mail.smtp.port", "SMTP_PORT")
	viper.BindEnv("mail.smtp.username", "SMTP_USERNAME")
	viper.BindEnv("mail.smtp.password", "SMTP_PASSWORD")
	viper.BindEnv("mail.smtp.from", "SENDER_EMAIL")
	viper.BindEnv("mail.smtp.sender_name", "SENDER_NAME")

	viper.BindEnv("providers.ebay.enabled", "EBAY_ENABLED")
	viper.BindEnv("providers.ebay.client_id", "EBAY_CLIENT_ID")
	viper.BindEnv("providers.ebay.client_secret", "EBAY_CLIENT_SECRET")
	viper.BindEnv("providers.ebay.env", "EBAY_ENV")
	viper.BindEnv("providers.ebay.marketplace_id", "EBAY_MARKETPLACE_ID")
	viper.BindEnv("providers.ebay.scopes", "EBAY_SCOPES")
	viper.BindEnv("providers.amazon.enabled", "AMZ_ENABLED")
	viper.BindEnv("providers.amazon.access_key", "AMZ_ACCESS_KEY")
	viper.BindEnv("providers.amazon.secret_key", "AMZ_SECRET_KEY")
	viper.BindEnv("providers.amazon.associate_tag", "AMZ_ASSOC_TAG")
	viper.BindEnv("providers.amazon.market", "AMZ_MARKET")
	viper.BindEnv("providers.kleinanzeigen.enabled", "KLEINANZEIGEN_ENABLED")
	viper.BindEnv("providers.kleinanzeigen.location", "KLEINANZEIGEN_LOCATION")
	viper.BindEnv("providers.kleinanzeigen.politeness_delay", "KLEINANZEIGEN_POLITENESS_DELAY")

	viper.BindEnv("agent.cooldown", "AGENT_COOLDOWN")
	viper.BindEnv("agent.cache_ttl", "AGENT_CACHE_TTL")
	viper.BindEnv("agent.provider_timeout", "AGENT_PROVIDER_TIMEOUT")
	viper.BindEnv("agent.min_job_interval", "AGENT_MIN_JOB_INTERVAL")
	viper.BindEnv("agent.max_digest_items", "AGENT_MAX_DIGEST_ITEMS")
	viper.BindEnv("agent.page_size", "AGENT_PAGE_SIZE")
	viper.BindEnv("agent.trigger_token", "AGENT_TRIGGER_TOKEN")

	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	switch c.Mail.Backend {
	case "gmail":
		if c.Mail.Gmail.ClientID == "" || c.Mail.Gmail.ClientSecret == "" || c.Mail.Gmail.RefreshToken == "" {
			return fmt.Errorf("gmail OAuth2 credentials are required for the gmail mail backend")
		}
	case "smtp":
		if c.Mail.SMTP.Host == "" || c.Mail.SMTP.Username == "" || c.Mail.SMTP.Password == "" {
			return fmt.Errorf("SMTP credentials are required for the smtp mail backend")
		}
	default:
		return fmt.Errorf("unknown mail backend %q", c.Mail.Backend)
	}

	if c.Agent.TriggerToken == "" {
		return fmt.Errorf("agent trigger token is required")
	}

	if c.Agent.Cooldown <= 0 || c.Agent.CacheTTL <= 0 {
		return fmt.Errorf("agent cooldown and cache TTL must be greater than 0")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	return nil
}

// DemoteMisconfigured disables providers whose credentials are incomplete and
// returns one message per demotion. A missing credential is a per-provider
// config problem, never a startup failure.
func (c *Config) DemoteMisconfigured() []string {
	var msgs []string

	if c.Providers.Ebay.Enabled && (c.Providers.Ebay.ClientID == "" || c.Providers.Ebay.ClientSecret == "") {
		c.Providers.Ebay.Enabled = false
		msgs = append(msgs, "ebay enabled but client_id/client_secret missing; provider disabled")
	}

	a := &c.Providers.Amazon
	if a.Enabled && (a.AccessKey == "" || a.SecretKey == "" || a.AssociateTag == "") {
		a.Enabled = false
		msgs = append(msgs, "amazon enabled but access_key/secret_key/associate_tag missing; provider disabled")
	}

	return msgs
}
