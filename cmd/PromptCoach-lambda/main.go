// Command PromptCoach-lambda serves the KakaoTalk skill webhook from AWS Lambda behind
// API Gateway. Sessions default to DynamoDB since Lambda instances keep no local state.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/BTreeMap/PromptCoach/internal/alert"
	"github.com/BTreeMap/PromptCoach/internal/api"
	"github.com/BTreeMap/PromptCoach/internal/genai"
	"github.com/BTreeMap/PromptCoach/internal/store"
	"github.com/BTreeMap/PromptCoach/internal/util"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))})))

	comps, err := componentsFromEnv()
	if err != nil {
		slog.Error("Lambda.main: invalid configuration", "error", err)
		os.Exit(1)
	}
	srv, cleanup, err := api.Build(context.Background(), comps)
	if err != nil {
		slog.Error("Lambda.main: failed to build service", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	lambda.Start(srv.LambdaHandler)
}

func logLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// errSQLiteUnsupported rejects the one backend that needs a local database file.
var errSQLiteUnsupported = errors.New("sqlite store is not supported on Lambda, use dynamodb or postgres")

// componentsFromEnv reads the same variables as the server binary, with DynamoDB as the
// default backend.
func componentsFromEnv() (api.Components, error) {
	region := util.GetEnv(store.DefaultRegion, "AWS_REGION", "AWS_DEFAULT_REGION")
	backend := strings.ToLower(util.GetEnv(store.BackendDynamoDB, "STORE_BACKEND"))

	var storeOpts []store.Option
	switch backend {
	case store.BackendDynamoDB:
		storeOpts = append(storeOpts,
			store.WithDynamoRegion(region),
			store.WithTables(
				util.GetEnv(store.DefaultSessionsTable, "SESSIONS_TABLE"),
				util.GetEnv(store.DefaultCompletedSessionsTable, "COMPLETED_SESSIONS_TABLE")))
		if endpoint := os.Getenv("DYNAMODB_ENDPOINT"); endpoint != "" {
			storeOpts = append(storeOpts, store.WithDynamoEndpoint(endpoint))
		}
	case store.BackendPostgres:
		storeOpts = append(storeOpts, store.WithPostgresDSN(os.Getenv("DATABASE_URL")))
	case store.BackendSQLite:
		return api.Components{}, errSQLiteUnsupported
	}

	genaiOpts := []genai.Option{
		genai.WithBaseURL(util.GetEnv(genai.DefaultBaseURL, "LLM_BASE_URL")),
		genai.WithModel(util.GetEnv(genai.DefaultModel, "LLM_MODEL")),
		genai.WithMaxTokens(int64(util.ParseIntEnv("LLM_MAX_TOKENS", genai.DefaultMaxTokens))),
		genai.WithTemperature(util.ParseFloatEnv("LLM_TEMPERATURE", genai.DefaultTemperature)),
		genai.WithTimeout(util.ParseDurationEnv("LLM_TIMEOUT", genai.DefaultTimeout)),
	}
	if key := util.GetEnv("", "UPSTAGE_API_KEY", "OPENAI_API_KEY"); key != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(key))
	}

	var alertOpts []alert.Option
	if sid, to := os.Getenv("TWILIO_ACCOUNT_SID"), os.Getenv("CRISIS_ALERT_TO"); sid != "" || to != "" {
		alertOpts = []alert.Option{
			alert.WithAccountSID(sid),
			alert.WithAuthToken(os.Getenv("TWILIO_AUTH_TOKEN")),
			alert.WithFrom(os.Getenv("TWILIO_FROM_NUMBER")),
			alert.WithTo(to),
		}
	}

	return api.Components{
		StoreBackend:       backend,
		Store:              storeOpts,
		GenAI:              genaiOpts,
		Alert:              alertOpts,
		ScriptFile:         os.Getenv("COACHING_SCRIPT_FILE"),
		QuestionBankBucket: os.Getenv("QUESTION_BANK_BUCKET"),
		QuestionBankKey:    os.Getenv("QUESTION_BANK_KEY"),
		AWSRegion:          region,
	}, nil
}
