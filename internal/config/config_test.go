package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "production") // skip .env lookup
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/chat")
	cfg := Load()
	if cfg.ServerAddr != ":8080" {
		t.Errorf("ServerAddr = %q, want :8080", cfg.ServerAddr)
	}
	if cfg.ReadTimeout != 15*time.Second {
		t.Errorf("ReadTimeout = %v, want 15s", cfg.ReadTimeout)
	}
	if cfg.MessageWindow != 50 {
		t.Errorf("MessageWindow = %d, want 50", cfg.MessageWindow)
	}
	if cfg.AdminMerchantID != "" {
		t.Errorf("AdminMerchantID = %q, want empty", cfg.AdminMerchantID)
	}
	if cfg.MerchantDirectoryURL != cfg.IdentityServiceURL {
		t.Errorf("MerchantDirectoryURL = %q, want fallback to identity URL", cfg.MerchantDirectoryURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/chat")
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("MESSAGE_WINDOW", "25")
	t.Setenv("ADMIN_MERCHANT_ID", "admin-7")
	t.Setenv("MERCHANT_DIRECTORY_URL", "http://directory:8082")
	cfg := Load()
	if cfg.ServerAddr != ":9090" {
		t.Errorf("ServerAddr = %q, want :9090", cfg.ServerAddr)
	}
	if cfg.DatabaseURL() != "postgres://u:p@db:5432/chat" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL())
	}
	if cfg.MessageWindow != 25 {
		t.Errorf("MessageWindow = %d, want 25", cfg.MessageWindow)
	}
	if cfg.AdminMerchantID != "admin-7" {
		t.Errorf("AdminMerchantID = %q, want admin-7", cfg.AdminMerchantID)
	}
	if cfg.MerchantDirectoryURL != "http://directory:8082" {
		t.Errorf("MerchantDirectoryURL = %q", cfg.MerchantDirectoryURL)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SOME_INT", "42")
	if got := envInt("SOME_INT", 7); got != 42 {
		t.Errorf("envInt = %d, want 42", got)
	}
	t.Setenv("SOME_INT", "not a number")
	if got := envInt("SOME_INT", 7); got != 7 {
		t.Errorf("envInt with garbage = %d, want fallback 7", got)
	}
	if got := envInt("UNSET_INT_KEY", 7); got != 7 {
		t.Errorf("envInt unset = %d, want fallback 7", got)
	}
}
