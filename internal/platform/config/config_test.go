package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIRESTORE_PROJECT_ID":  "baraholka-dev",
		"API_STORAGE_ASSETS_BUCKET": "baraholka-assets",
	}
}

func loadForTest(t *testing.T, env map[string]string, opts ...Option) Config {
	t.Helper()
	opts = append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, opts...)
	cfg, err := Load(context.Background(), opts...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := loadForTest(t, baseEnv())

	if cfg.Server.Port != defaultPort {
		t.Fatalf("port = %q, want %q", cfg.Server.Port, defaultPort)
	}
	if cfg.Listings.ActiveWindow != defaultActiveWindow {
		t.Fatalf("active window = %v, want %v", cfg.Listings.ActiveWindow, defaultActiveWindow)
	}
	if cfg.Assets.MaxImageSizeBytes != defaultMaxImageSize {
		t.Fatalf("max image size = %d, want %d", cfg.Assets.MaxImageSizeBytes, defaultMaxImageSize)
	}
	if !cfg.Features.PaidListings || !cfg.Features.EnablePromotions {
		t.Fatalf("feature defaults = %+v, want both enabled", cfg.Features)
	}
	if cfg.Topics.Moderation != "moderation-queue" {
		t.Fatalf("moderation topic = %q", cfg.Topics.Moderation)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	env := baseEnv()
	env["API_SERVER_PORT"] = "9090"
	env["API_LISTINGS_ACTIVE_WINDOW"] = "168h"
	env["API_ASSETS_WRITE_ATTEMPTS"] = "5"
	env["API_ASSETS_MAX_IMAGE_SIZE"] = "1048576"
	env["API_FEATURE_PAID_LISTINGS"] = "off"

	cfg := loadForTest(t, env)

	if cfg.Server.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Listings.ActiveWindow != 7*24*time.Hour {
		t.Fatalf("active window = %v, want 168h", cfg.Listings.ActiveWindow)
	}
	if cfg.Assets.WriteAttempts != 5 {
		t.Fatalf("write attempts = %d, want 5", cfg.Assets.WriteAttempts)
	}
	if cfg.Assets.MaxImageSizeBytes != 1<<20 {
		t.Fatalf("max image size = %d, want 1 MiB", cfg.Assets.MaxImageSizeBytes)
	}
	if cfg.Features.PaidListings {
		t.Fatal("paid listings should be disabled")
	}
}

func TestLoadValidatesRequiredFields(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{"API_LISTINGS_ACTIVE_WINDOW": "-1h"}),
		WithoutSystemEnv(),
		WithEnvFile(""),
	)

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	fields := validation.Fields()
	want := map[string]bool{
		"Firestore.ProjectID":   false,
		"Storage.AssetsBucket":  false,
		"Listings.ActiveWindow": false,
	}
	for _, f := range fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Fatalf("fields = %v, missing %s", fields, f)
		}
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := baseEnv()
	env["API_TELEGRAM_BOT_TOKEN"] = "secret://telegram-bot-token"
	env["API_PSP_STRIPE_API_KEY"] = "sm://stripe-api-key"

	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})

	cfg := loadForTest(t, env, WithSecretResolver(resolver))

	if cfg.Telegram.BotToken != "resolved:secret://telegram-bot-token" {
		t.Fatalf("bot token = %q", cfg.Telegram.BotToken)
	}
	// sm:// references are normalised to the canonical scheme before resolution.
	if cfg.PSP.StripeAPIKey != "resolved:secret://stripe-api-key" {
		t.Fatalf("stripe key = %q", cfg.PSP.StripeAPIKey)
	}
	if len(refs) != 2 {
		t.Fatalf("resolver calls = %d, want 2", len(refs))
	}
}

func TestLoadWrapsSecretFailures(t *testing.T) {
	env := baseEnv()
	env["API_TELEGRAM_BOT_TOKEN"] = "secret://telegram-bot-token"

	boom := errors.New("permission denied")
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", boom
	})

	_, err := Load(context.Background(),
		WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithSecretResolver(resolver),
	)

	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("err = %v, want SecretError", err)
	}
	if secretErr.Ref != "secret://telegram-bot-token" {
		t.Fatalf("ref = %q", secretErr.Ref)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped resolver error", err)
	}
}

func TestLoadPlainSecretsPassThrough(t *testing.T) {
	env := baseEnv()
	env["API_TELEGRAM_BOT_TOKEN"] = "12345:plain-token"

	cfg := loadForTest(t, env)
	if cfg.Telegram.BotToken != "12345:plain-token" {
		t.Fatalf("bot token = %q, want plain value untouched", cfg.Telegram.BotToken)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_STORAGE_ASSETS_BUCKET=\"bucket-from-file\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	env := map[string]string{"API_FIRESTORE_PROJECT_ID": "baraholka-dev"}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Fatalf("port = %q, want 7070 from .env", cfg.Server.Port)
	}
	if cfg.Storage.AssetsBucket != "bucket-from-file" {
		t.Fatalf("bucket = %q, want quoted value unwrapped", cfg.Storage.AssetsBucket)
	}
}

func TestEnvMapTakesPrecedenceOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("API_SERVER_PORT=7070\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	env := baseEnv()
	env["API_SERVER_PORT"] = "6060"

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "6060" {
		t.Fatalf("port = %q, want env map to win", cfg.Server.Port)
	}
}
