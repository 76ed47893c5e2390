package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"cvg-connector/internal/channel"
)

// Config holds all configuration required by the connector process.
// All values must come from env (or an env-file loaded by the process
// runner). No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	CVG     CVGConfig
	Engine  EngineConfig
	Redis   RedisConfig
	Webhook WebhookConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// CVGConfig is the gateway-facing credential and behavior set.
type CVGConfig struct {
	// Token is the shared secret the gateway presents as a bearer token
	// on every webhook request.
	Token string

	// Proxy optionally routes outbound gateway calls.
	Proxy string

	// StartIntent is the message text injected on session events.
	StartIntent string

	// BlockingEndpoints holds every webhook response until engine
	// processing completes. The session endpoint blocks regardless.
	BlockingEndpoints bool
}

type EngineConfig struct {
	// URL is the engine endpoint that ingests normalized messages.
	URL string
}

// RedisConfig is optional; leaving Host empty disables the per-dialog
// in-flight cap.
type RedisConfig struct {
	Host string
	Port int
}

type WebhookConfig struct {
	// DialogCap limits concurrent non-session events per dialog when
	// redis is configured.
	DialogCap int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.CVG.Token = os.Getenv("CVG_TOKEN")
	c.CVG.Proxy = strings.TrimSpace(os.Getenv("CVG_PROXY"))
	c.CVG.StartIntent = strings.TrimSpace(os.Getenv("CVG_START_INTENT"))
	if c.CVG.StartIntent == "" {
		c.CVG.StartIntent = channel.DefaultStartIntent
	}
	{
		b, err := optionalBool("CVG_BLOCKING_ENDPOINTS", true)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.CVG.BlockingEndpoints = b
	}

	c.Engine.URL = strings.TrimSpace(os.Getenv("ENGINE_URL"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	{
		n, err := optionalInt("WEBHOOK_DIALOG_CAP", 8)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Webhook.DialogCap = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.CVG.Token == "" {
		errs = append(errs, errors.New("CVG_TOKEN is required"))
	}
	if c.CVG.Proxy != "" {
		if u, err := url.Parse(c.CVG.Proxy); err != nil || u.Scheme == "" {
			errs = append(errs, fmt.Errorf("CVG_PROXY must be an absolute url, got %q", c.CVG.Proxy))
		}
	}
	if c.CVG.StartIntent == "" {
		errs = append(errs, errors.New("CVG_START_INTENT must not be empty"))
	}

	if c.Engine.URL == "" {
		errs = append(errs, errors.New("ENGINE_URL is required"))
	} else if u, err := url.Parse(c.Engine.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("ENGINE_URL must be an absolute url, got %q", c.Engine.URL))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Webhook.DialogCap <= 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_DIALOG_CAP must be > 0, got %d", c.Webhook.DialogCap))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RedisEnabled reports whether the optional in-flight cap is configured.
func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
