package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func minimalEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL": "sqlite:///tmp/proconfianza.db",
		"OTP_SALT":     "pepper",
	}
}

func TestLoad_defaults(t *testing.T) {
	cfg, err := loadFrom(minimalEnv())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.OTPDevMode)
	assert.Equal(t, 10*time.Minute, cfg.VerificationCodeTTL)
	assert.Equal(t, 3, cfg.VerificationMaxAttempts)
	assert.Equal(t, "34", cfg.PhoneCountryCode)
	assert.Equal(t, 9, cfg.PhoneNationalDigits)
	assert.Equal(t, SMSProviderLog, cfg.SMSProvider)
	assert.Equal(t, 5*time.Second, cfg.SMSSendTimeout)
	assert.Equal(t, "@hourly", cfg.CleanupSchedule)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.RateLimitSendPerIP)
	assert.Equal(t, 3, cfg.RateLimitSendPerPhone)
	assert.Equal(t, 20, cfg.RateLimitVerifyPerIP)
	assert.Empty(t, cfg.AdminAPIKey)
}

func TestLoad_overrides(t *testing.T) {
	vars := minimalEnv()
	vars["PORT"] = "9090"
	vars["OTP_DEV_MODE"] = "true"
	vars["VERIFICATION_CODE_TTL"] = "90s"
	vars["PHONE_COUNTRY_CODE"] = "1"
	vars["PHONE_NATIONAL_DIGITS"] = "10"
	vars["CORS_ALLOWED_ORIGINS"] = "https://app.proconfianza.es,https://admin.proconfianza.es"
	vars["SMS_PROVIDER"] = "twilio"
	vars["TWILIO_ACCOUNT_SID"] = "AC123"
	vars["TWILIO_AUTH_TOKEN"] = "token"
	vars["TWILIO_FROM_PHONE"] = "+15550001111"

	cfg, err := loadFrom(vars)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.OTPDevMode)
	assert.Equal(t, 90*time.Second, cfg.VerificationCodeTTL)
	assert.Equal(t, "1", cfg.PhoneCountryCode)
	assert.Equal(t, 10, cfg.PhoneNationalDigits)
	assert.Equal(t, []string{"https://app.proconfianza.es", "https://admin.proconfianza.es"}, cfg.CORSAllowedOrigins)
}

func TestLoad_requiredVariables(t *testing.T) {
	_, err := loadFrom(map[string]string{"OTP_SALT": "pepper"})
	assert.ErrorContains(t, err, "DATABASE_URL")

	_, err = loadFrom(map[string]string{"DATABASE_URL": "sqlite:///tmp/x.db"})
	assert.ErrorContains(t, err, "OTP_SALT")
}

func TestLoad_invalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"DATABASE_URL":              {"DATABASE_URL": "mysql://localhost/db"},
		"VERIFICATION_MAX_ATTEMPTS": {"VERIFICATION_MAX_ATTEMPTS": "0"},
		"VERIFICATION_CODE_TTL":     {"VERIFICATION_CODE_TTL": "-1m"},
		"SMS_PROVIDER":              {"SMS_PROVIDER": "carrier-pigeon"},
		"TWILIO_ACCOUNT_SID":        {"SMS_PROVIDER": "twilio"},
		"RATE_LIMIT_SEND_PER_PHONE": {"RATE_LIMIT_SEND_PER_PHONE": "0"},
	}
	for want, overrides := range cases {
		t.Run(want, func(t *testing.T) {
			vars := minimalEnv()
			for k, v := range overrides {
				vars[k] = v
			}
			_, err := loadFrom(vars)
			assert.ErrorContains(t, err, want)
		})
	}
}
