package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"coffee-bot/utils"
)

const EnvProduction = "production"

type Config struct {
	Env string

	// Twilio
	AccountSID string
	AuthToken  string
	FromNumber string
	Channel    string
	Contacts   []string

	// Files
	MessageFile  string
	QueueFile    string
	ScheduleFile string

	// Send window, inclusive hours
	WindowStart int
	WindowEnd   int
	Timezone    string

	// HTTP
	Port           string
	JWTSecret      string
	JWTExpiryHours int
	CORSOrigins    []string

	DBURL string

	LogLevel  string
	LogFormat string
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Load reads configuration from the process environment. Validation only
// runs in production; elsewhere the process takes no action, so malformed
// values fall back to their defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Env:          os.Getenv("ENV"),
		AccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		FromNumber:   os.Getenv("TWILIO_PHONE_NUMBER"),
		Channel:      strings.ToLower(getEnv("TWILIO_CHANNEL", "sms")),
		Contacts:     splitContacts(os.Getenv("PHONE_CONTACTS")),
		MessageFile:  getEnv("MESSAGE_FILE", "coffee_messages.json"),
		QueueFile:    getEnv("QUEUE_FILE", "message_queue.json"),
		ScheduleFile: getEnv("SCHEDULE_FILE", "scheduled_time.txt"),
		Timezone:     os.Getenv("TIMEZONE"),
		Port:         getEnv("PORT", "8080"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		CORSOrigins:  SplitList(os.Getenv("CORS_ORIGINS")),
		DBURL:        os.Getenv("DB_URL"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
	}

	var errs []error
	var err error
	if cfg.WindowStart, err = getInt("SEND_WINDOW_START", 8); err != nil {
		errs = append(errs, err)
	}
	if cfg.WindowEnd, err = getInt("SEND_WINDOW_END", 11); err != nil {
		errs = append(errs, err)
	}
	if cfg.JWTExpiryHours, err = getInt("JWT_EXPIRY_HOURS", 24); err != nil {
		errs = append(errs, err)
	}

	if !cfg.IsProduction() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.WindowStart < 0 || c.WindowEnd > 23 || c.WindowStart > c.WindowEnd {
		errs = append(errs, fmt.Errorf("invalid send window %d..%d", c.WindowStart, c.WindowEnd))
	}
	if c.Channel != "sms" && c.Channel != "whatsapp" {
		errs = append(errs, fmt.Errorf("invalid TWILIO_CHANNEL %q", c.Channel))
	}
	for _, contact := range c.Contacts {
		if !utils.ValidatePhone(contact) {
			errs = append(errs, fmt.Errorf("invalid phone number in PHONE_CONTACTS: %q", contact))
		}
	}

	if c.IsProduction() {
		if c.AccountSID == "" || c.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required"))
		}
		if c.FromNumber == "" {
			errs = append(errs, errors.New("TWILIO_PHONE_NUMBER is required"))
		}
		if len(c.Contacts) == 0 {
			errs = append(errs, errors.New("PHONE_CONTACTS is required"))
		}
	}

	return errors.Join(errs...)
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitContacts(raw string) []string {
	contacts := SplitList(raw)
	for i, c := range contacts {
		contacts[i] = utils.CleanPhone(c)
	}
	return contacts
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
