package config

import (
	"strings"
	"testing"

	"cvg-connector/internal/channel"
)

func validConfig() Config {
	c := Config{}
	c.App = AppConfig{Env: "local", Port: 8080}
	c.CVG = CVGConfig{Token: "secret", StartIntent: channel.DefaultStartIntent, BlockingEndpoints: true}
	c.Engine = EngineConfig{URL: "http://engine:5005/webhooks/rest/webhook"}
	c.Webhook = WebhookConfig{DialogCap: 8}
	return c
}

func TestValidate_Valid(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_TokenRequired(t *testing.T) {
	c := validConfig()
	c.CVG.Token = ""
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "CVG_TOKEN") {
		t.Fatalf("expected CVG_TOKEN error, got %v", err)
	}
}

func TestValidate_EngineURLRequired(t *testing.T) {
	c := validConfig()
	c.Engine.URL = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}

	c.Engine.URL = "not a url"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for relative url")
	}
}

func TestValidate_RedisOptional(t *testing.T) {
	c := validConfig()
	if c.RedisEnabled() {
		t.Fatalf("expected redis disabled by default")
	}

	c.Redis = RedisConfig{Host: "localhost"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for redis host without port")
	}

	c.Redis.Port = 6379
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !c.RedisEnabled() || c.RedisAddr() != "localhost:6379" {
		t.Fatalf("unexpected redis config: %+v", c.Redis)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("CVG_TOKEN", "secret")
	t.Setenv("ENGINE_URL", "http://engine:5005/hook")
	t.Setenv("CVG_START_INTENT", "")
	t.Setenv("CVG_BLOCKING_ENDPOINTS", "")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("WEBHOOK_DIALOG_CAP", "")

	c, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.CVG.StartIntent != channel.DefaultStartIntent {
		t.Fatalf("expected default start intent, got %q", c.CVG.StartIntent)
	}
	if !c.CVG.BlockingEndpoints {
		t.Fatalf("expected blocking endpoints to default to true")
	}
	if c.Webhook.DialogCap != 8 {
		t.Fatalf("expected default dialog cap 8, got %d", c.Webhook.DialogCap)
	}
}

func TestLoad_InvalidBlockingFlag(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("CVG_TOKEN", "secret")
	t.Setenv("ENGINE_URL", "http://engine:5005/hook")
	t.Setenv("CVG_BLOCKING_ENDPOINTS", "maybe")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid boolean")
	}
}
