package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/BTreeMap/PromptCoach/internal/alert"
	"github.com/BTreeMap/PromptCoach/internal/flow"
	"github.com/BTreeMap/PromptCoach/internal/genai"
	"github.com/BTreeMap/PromptCoach/internal/store"
	"github.com/BTreeMap/PromptCoach/internal/testutil"
)

func TestBuild_MemoryWithoutLLM(t *testing.T) {
	srv, cleanup, err := Build(context.Background(), Components{StoreBackend: store.BackendMemory})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer cleanup()

	rr := serve(srv, http.MethodPost, "/webhook", skillPayload)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	testutil.AssertReplyText(t, decodeSkillResponse(t, rr), flow.DefaultScript().Stages[0].Fallback)
}

func TestBuild_SQLiteWithLLMKey(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "coach.db")
	srv, cleanup, err := Build(context.Background(), Components{
		Store: []store.Option{store.WithSQLiteDSN(dsn)},
		GenAI: []genai.Option{genai.WithAPIKey("sk-test")},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if srv == nil {
		t.Fatal("expected server")
	}
	if err := cleanup(); err != nil {
		t.Errorf("cleanup failed: %v", err)
	}
	if _, err := os.Stat(dsn); err != nil {
		t.Errorf("expected sqlite database to be created: %v", err)
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		c    Components
	}{
		{"missing script file", Components{ScriptFile: filepath.Join(t.TempDir(), "missing.yaml")}},
		{"unknown backend", Components{StoreBackend: "cassandra"}},
		{"incomplete twilio config", Components{Alert: []alert.Option{alert.WithAccountSID("AC123")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Build(context.Background(), tt.c); err == nil {
				t.Error("expected Build to fail")
			}
		})
	}
}
