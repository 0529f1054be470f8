package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			Host:   "localhost",
			User:   "test",
			DBName: "test",
		},
		Mail: MailConfig{
			Backend: "smtp",
			SMTP: SMTPConfig{
				Host:     "smtp.example.com",
				Username: "test",
				Password: "test",
			},
		},
		Agent: AgentConfig{
			Cooldown:     2 * time.Hour,
			CacheTTL:     time.Minute,
			TriggerToken: "secret",
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 15,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	config := validConfig()
	assert.NoError(t, config.Validate())

	invalidConfig := &Config{
		Server: ServerConfig{
			Port: "",
		},
	}
	assert.Error(t, invalidConfig.Validate())
}

func TestConfigValidationMailBackends(t *testing.T) {
	config := validConfig()

	config.Mail.Backend = "gmail"
	assert.Error(t, config.Validate(), "gmail backend without credentials must fail")

	config.Mail.Gmail = GmailConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "token",
	}
	assert.NoError(t, config.Validate())

	config.Mail.Backend = "pigeon"
	assert.Error(t, config.Validate())
}

func TestConfigValidationRequiresTriggerToken(t *testing.T) {
	config := validConfig()
	config.Agent.TriggerToken = ""
	assert.Error(t, config.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	config := DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	dsn := config.GetDSN()
	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local"
	assert.Equal(t, expected, dsn)
}

func TestDemoteMisconfigured(t *testing.T) {
	config := validConfig()
	config.Providers = ProvidersConfig{
		Ebay: EbayConfig{
			Enabled: true, // no credentials
		},
		Amazon: AmazonConfig{
			Enabled:      true,
			AccessKey:    "key",
			SecretKey:    "secret",
			AssociateTag: "tag-21",
		},
		Kleinanzeigen: KleinanzeigenConfig{
			Enabled: true,
		},
	}

	msgs := config.DemoteMisconfigured()
	assert.Len(t, msgs, 1)

	// Incomplete credentials demote the provider instead of failing startup.
	assert.False(t, config.Providers.Ebay.Enabled)
	assert.True(t, config.Providers.Amazon.Enabled)
	// Kleinanzeigen needs no credentials and is never demoted.
	assert.True(t, config.Providers.Kleinanzeigen.Enabled)
}
