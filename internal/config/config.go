package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// SMS providers.
const (
	SMSProviderLog    = "log"
	SMSProviderTwilio = "twilio"
)

// Config holds the application configuration
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	OTPSalt                 string        `env:"OTP_SALT,required"`
	OTPDevMode              bool          `env:"OTP_DEV_MODE" envDefault:"false"`
	VerificationCodeTTL     time.Duration `env:"VERIFICATION_CODE_TTL" envDefault:"10m"`
	VerificationMaxAttempts int           `env:"VERIFICATION_MAX_ATTEMPTS" envDefault:"3"`

	PhoneCountryCode    string `env:"PHONE_COUNTRY_CODE" envDefault:"34"`
	PhoneNationalDigits int    `env:"PHONE_NATIONAL_DIGITS" envDefault:"9"`

	SMSProvider      string        `env:"SMS_PROVIDER" envDefault:"log"`
	SMSSendTimeout   time.Duration `env:"SMS_SEND_TIMEOUT" envDefault:"5s"`
	TwilioAccountSID string        `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string        `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromPhone  string        `env:"TWILIO_FROM_PHONE"`

	AdminAPIKey      string `env:"ADMIN_API_KEY"`
	AllowUserInvites bool   `env:"ALLOW_USER_INVITES" envDefault:"false"`

	BootstrapAdminPhone     string `env:"BOOTSTRAP_ADMIN_PHONE"`
	BootstrapInvitationCode string `env:"BOOTSTRAP_INVITATION_CODE"`

	CleanupSchedule    string   `env:"CLEANUP_SCHEDULE" envDefault:"@hourly"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	RateLimitSendPerIP    int `env:"RATE_LIMIT_SEND_PER_IP" envDefault:"10"`
	RateLimitSendPerPhone int `env:"RATE_LIMIT_SEND_PER_PHONE" envDefault:"3"`
	RateLimitVerifyPerIP  int `env:"RATE_LIMIT_VERIFY_PER_IP" envDefault:"20"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if !strings.HasPrefix(c.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(c.DatabaseURL, "postgresql://") &&
		!strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		errs = append(errs, errors.New("DATABASE_URL must start with postgres://, postgresql:// or sqlite://"))
	}
	if c.VerificationCodeTTL <= 0 {
		errs = append(errs, errors.New("VERIFICATION_CODE_TTL must be positive"))
	}
	if c.VerificationMaxAttempts < 1 {
		errs = append(errs, errors.New("VERIFICATION_MAX_ATTEMPTS must be at least 1"))
	}
	if c.SMSSendTimeout <= 0 {
		errs = append(errs, errors.New("SMS_SEND_TIMEOUT must be positive"))
	}

	switch c.SMSProvider {
	case SMSProviderLog:
	case SMSProviderTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromPhone == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_PHONE are required when SMS_PROVIDER=twilio"))
		}
	default:
		errs = append(errs, fmt.Errorf("SMS_PROVIDER must be %q or %q, got %q", SMSProviderLog, SMSProviderTwilio, c.SMSProvider))
	}

	for name, v := range map[string]int{
		"RATE_LIMIT_SEND_PER_IP":    c.RateLimitSendPerIP,
		"RATE_LIMIT_SEND_PER_PHONE": c.RateLimitSendPerPhone,
		"RATE_LIMIT_VERIFY_PER_IP":  c.RateLimitVerifyPerIP,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1", name))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
