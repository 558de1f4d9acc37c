package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/BTreeMap/PromptCoach/internal/alert"
	"github.com/BTreeMap/PromptCoach/internal/flow"
	"github.com/BTreeMap/PromptCoach/internal/genai"
	"github.com/BTreeMap/PromptCoach/internal/metrics"
	"github.com/BTreeMap/PromptCoach/internal/store"
)

// Components holds the per-module options the service is assembled from.
type Components struct {
	StoreBackend string
	Store        []store.Option
	GenAI        []genai.Option
	// Alert enables Twilio crisis alerts when non-empty.
	Alert      []alert.Option
	ScriptFile string
	// QuestionBankBucket enables the S3 question bank when set.
	QuestionBankBucket string
	QuestionBankKey    string
	AWSRegion          string
	API                []Option
}

// Build assembles the store, coaching flow and server. The returned cleanup closes the
// store and must be called once the server is done.
func Build(ctx context.Context, c Components) (*Server, func() error, error) {
	script, err := flow.LoadScript(c.ScriptFile)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(ctx, c.StoreBackend, c.Store...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	cleanup := func() error { return st.Close() }

	m := metrics.NewCollector()
	flowOpts := []flow.Option{flow.WithMetrics(m)}

	llm, err := genai.NewClient(c.GenAI...)
	switch {
	case errors.Is(err, genai.ErrMissingAPIKey):
		slog.Warn("API.Build: no LLM API key configured, using canned questions only")
	case err != nil:
		cleanup()
		return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	default:
		flowOpts = append(flowOpts, flow.WithLLM(llm))
	}

	if len(c.Alert) > 0 {
		notifier, err := alert.NewTwilioNotifier(c.Alert...)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to create crisis notifier: %w", err)
		}
		flowOpts = append(flowOpts, flow.WithNotifier(notifier))
	}

	if c.QuestionBankBucket != "" {
		cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(c.AWSRegion))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		bank := flow.NewS3QuestionBank(script, s3.NewFromConfig(cfg), c.QuestionBankBucket, c.QuestionBankKey)
		flowOpts = append(flowOpts, flow.WithQuestionBank(bank))
		slog.Debug("API.Build: S3 question bank configured", "bucket", c.QuestionBankBucket)
	}

	coaching := flow.NewCoachingFlow(st, script, flowOpts...)
	apiOpts := append([]Option{WithMetrics(m)}, c.API...)
	slog.Info("API.Build: service assembled", "backend", c.StoreBackend, "llm", llm != nil, "alerts", len(c.Alert) > 0)
	return NewServer(coaching, apiOpts...), cleanup, nil
}

// Run assembles the service and serves HTTP until ctx is done or a shutdown signal arrives.
func Run(ctx context.Context, c Components) error {
	srv, cleanup, err := Build(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("API.Run: failed to close store", "error", err)
		}
	}()
	return srv.Run(ctx)
}
