package main

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/BTreeMap/PromptCoach/internal/store"
)

func TestComponentsFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"STORE_BACKEND", "AWS_REGION", "AWS_DEFAULT_REGION", "UPSTAGE_API_KEY", "OPENAI_API_KEY",
		"TWILIO_ACCOUNT_SID", "CRISIS_ALERT_TO", "DYNAMODB_ENDPOINT", "QUESTION_BANK_BUCKET"} {
		t.Setenv(k, "")
	}
	c, err := componentsFromEnv()
	if err != nil {
		t.Fatalf("componentsFromEnv: %v", err)
	}
	if c.StoreBackend != store.BackendDynamoDB {
		t.Errorf("expected dynamodb backend, got %q", c.StoreBackend)
	}
	if c.AWSRegion != store.DefaultRegion {
		t.Errorf("expected default region, got %q", c.AWSRegion)
	}
	if c.Alert != nil {
		t.Error("expected alerts disabled")
	}
	if len(c.Store) != 2 {
		t.Errorf("expected region and table options, got %d", len(c.Store))
	}
}

func TestComponentsFromEnvOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("UPSTAGE_API_KEY", "up-key")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("QUESTION_BANK_BUCKET", "coaching-chatbot-data")

	c, err := componentsFromEnv()
	if err != nil {
		t.Fatalf("componentsFromEnv: %v", err)
	}
	if c.StoreBackend != store.BackendMemory || len(c.Store) != 0 {
		t.Errorf("unexpected store config %q %d", c.StoreBackend, len(c.Store))
	}
	if c.AWSRegion != "us-east-1" || c.QuestionBankBucket != "coaching-chatbot-data" {
		t.Errorf("unexpected components %+v", c)
	}
	if len(c.Alert) != 4 {
		t.Errorf("expected 4 alert options, got %d", len(c.Alert))
	}
}

func TestComponentsFromEnvRejectsSQLite(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("DATABASE_URL", "/tmp/coach.db")
	if _, err := componentsFromEnv(); !errors.Is(err, errSQLiteUnsupported) {
		t.Errorf("expected sqlite to be rejected, got %v", err)
	}
}

func TestComponentsFromEnvPostgres(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://coach@db/coach")
	c, err := componentsFromEnv()
	if err != nil {
		t.Fatalf("componentsFromEnv: %v", err)
	}
	if c.StoreBackend != store.BackendPostgres || len(c.Store) != 1 {
		t.Errorf("unexpected store config %q %d", c.StoreBackend, len(c.Store))
	}
}

func TestLogLevel(t *testing.T) {
	if logLevel("debug") != slog.LevelDebug || logLevel("warn") != slog.LevelWarn || logLevel("") != slog.LevelInfo {
		t.Error("unexpected log level mapping")
	}
}
