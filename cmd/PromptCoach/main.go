package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/PromptCoach/internal/alert"
	"github.com/BTreeMap/PromptCoach/internal/api"
	"github.com/BTreeMap/PromptCoach/internal/genai"
	"github.com/BTreeMap/PromptCoach/internal/lockfile"
	"github.com/BTreeMap/PromptCoach/internal/store"
	"github.com/BTreeMap/PromptCoach/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PromptCoach state data
	DefaultStateDir = "/var/lib/promptcoach"
	// DefaultDBFileName is the SQLite database filename used when sqlite is selected without a DSN
	DefaultDBFileName = "promptcoach.db"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel, config.LogJSON)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	comps := buildComponents(flags, config)
	slog.Info("Bootstrapping PromptCoach", "backend", comps.StoreBackend, "api_addr", flags.apiAddr, "state_dir", flags.stateDir)

	// sqlite allows a single writer process per database
	if comps.StoreBackend == store.BackendSQLite {
		lock, err := lockfile.Acquire(filepath.Dir(sqlitePath(flags)), comps.StoreBackend)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	if err := api.Run(context.Background(), comps); err != nil {
		slog.Error("PromptCoach failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PromptCoach exited successfully")
}

// Config holds environment configuration
type Config struct {
	APIAddr         string
	LogLevel        string
	LogJSON         bool
	LLMAPIKey       string
	LLMBaseURL      string
	LLMModel        string
	LLMMaxTokens    int
	LLMTemperature  float64
	LLMTimeout      time.Duration
	ShutdownTimeout time.Duration
	StoreBackend    string
	DatabaseURL     string
	StateDir        string
	AWSRegion       string
	DynamoEndpoint  string
	SessionsTable   string
	CompletedTable  string
	ScriptFile      string
	BankBucket      string
	BankKey         string
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
	CrisisAlertTo   string
}

// Flags holds command line flag values
type Flags struct {
	apiAddr      string
	logLevel     string
	stateDir     string
	storeBackend string
	dbDSN        string
	llmAPIKey    string
	llmModel     string
	scriptFile   string
}

// parseLogLevel maps LOG_LEVEL values to slog levels, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initializeLogger installs a text or JSON handler on stdout at the given level
func initializeLogger(level string, jsonFormat bool) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		APIAddr:         os.Getenv("API_ADDR"),
		LogLevel:        util.GetEnv("info", "LOG_LEVEL"),
		LogJSON:         util.ParseBoolEnv("LOG_JSON", false),
		LLMAPIKey:       util.GetEnv("", "UPSTAGE_API_KEY", "OPENAI_API_KEY"),
		LLMBaseURL:      util.GetEnv(genai.DefaultBaseURL, "LLM_BASE_URL"),
		LLMModel:        util.GetEnv(genai.DefaultModel, "LLM_MODEL"),
		LLMMaxTokens:    util.ParseIntEnv("LLM_MAX_TOKENS", genai.DefaultMaxTokens),
		LLMTemperature:  util.ParseFloatEnv("LLM_TEMPERATURE", genai.DefaultTemperature),
		LLMTimeout:      util.ParseDurationEnv("LLM_TIMEOUT", genai.DefaultTimeout),
		ShutdownTimeout: util.ParseDurationEnv("SHUTDOWN_TIMEOUT", api.DefaultShutdownTimeout),
		StoreBackend:    strings.ToLower(os.Getenv("STORE_BACKEND")),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        util.GetEnv(DefaultStateDir, "PROMPTCOACH_STATE_DIR"),
		AWSRegion:       util.GetEnv(store.DefaultRegion, "AWS_REGION", "AWS_DEFAULT_REGION"),
		DynamoEndpoint:  os.Getenv("DYNAMODB_ENDPOINT"),
		SessionsTable:   util.GetEnv(store.DefaultSessionsTable, "SESSIONS_TABLE"),
		CompletedTable:  util.GetEnv(store.DefaultCompletedSessionsTable, "COMPLETED_SESSIONS_TABLE"),
		ScriptFile:      os.Getenv("COACHING_SCRIPT_FILE"),
		BankBucket:      os.Getenv("QUESTION_BANK_BUCKET"),
		BankKey:         os.Getenv("QUESTION_BANK_KEY"),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
		CrisisAlertTo:   os.Getenv("CRISIS_ALERT_TO"),
	}
	if config.APIAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			config.APIAddr = ":" + port
		} else {
			config.APIAddr = api.DefaultAddr
		}
	}

	slog.Debug("environment variables loaded",
		"API_ADDR", config.APIAddr,
		"LOG_LEVEL", config.LogLevel,
		"LLM_API_KEY_SET", config.LLMAPIKey != "",
		"LLM_BASE_URL", config.LLMBaseURL,
		"LLM_MODEL", config.LLMModel,
		"STORE_BACKEND", config.StoreBackend,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"PROMPTCOACH_STATE_DIR", config.StateDir,
		"QUESTION_BANK_BUCKET", config.BankBucket,
		"TWILIO_SET", config.TwilioSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	var flags Flags
	fs.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&flags.logLevel, "log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for the SQLite store (overrides $PROMPTCOACH_STATE_DIR)")
	fs.StringVar(&flags.storeBackend, "store", config.StoreBackend, "store backend: memory, sqlite, postgres, dynamodb (overrides $STORE_BACKEND)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.DatabaseURL, "database DSN for the SQLite or Postgres store (overrides $DATABASE_URL)")
	fs.StringVar(&flags.llmAPIKey, "llm-api-key", config.LLMAPIKey, "LLM API key (overrides $UPSTAGE_API_KEY)")
	fs.StringVar(&flags.llmModel, "llm-model", config.LLMModel, "LLM model name (overrides $LLM_MODEL)")
	fs.StringVar(&flags.scriptFile, "script", config.ScriptFile, "coaching script YAML file (overrides $COACHING_SCRIPT_FILE)")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	if flags.logLevel != config.LogLevel {
		initializeLogger(flags.logLevel, config.LogJSON)
	}

	slog.Debug("flags parsed",
		"apiAddr", flags.apiAddr,
		"stateDir", flags.stateDir,
		"storeBackend", flags.storeBackend,
		"dbDSN_set", flags.dbDSN != "",
		"llmAPIKeySet", flags.llmAPIKey != "",
		"llmModel", flags.llmModel,
		"scriptFile", flags.scriptFile)
	return flags, nil
}

// resolveStoreBackend picks the backend from the explicit setting or the DSN shape.
func resolveStoreBackend(flags Flags) string {
	if flags.storeBackend != "" {
		return flags.storeBackend
	}
	if flags.dbDSN != "" {
		return store.DetectDSNType(flags.dbDSN)
	}
	return store.BackendMemory
}

// sqlitePath returns the SQLite database file, defaulting to one inside the state directory.
func sqlitePath(flags Flags) string {
	if flags.dbDSN != "" {
		return flags.dbDSN
	}
	return filepath.Join(flags.stateDir, DefaultDBFileName)
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(backend string, flags Flags, config Config) []store.Option {
	var storeOpts []store.Option
	switch backend {
	case store.BackendSQLite:
		storeOpts = append(storeOpts, store.WithSQLiteDSN(sqlitePath(flags)))
	case store.BackendPostgres:
		storeOpts = append(storeOpts, store.WithPostgresDSN(flags.dbDSN))
	case store.BackendDynamoDB:
		storeOpts = append(storeOpts,
			store.WithDynamoRegion(config.AWSRegion),
			store.WithTables(config.SessionsTable, config.CompletedTable))
		if config.DynamoEndpoint != "" {
			storeOpts = append(storeOpts, store.WithDynamoEndpoint(config.DynamoEndpoint))
		}
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags, config Config) []genai.Option {
	genaiOpts := []genai.Option{
		genai.WithBaseURL(config.LLMBaseURL),
		genai.WithModel(flags.llmModel),
		genai.WithMaxTokens(int64(config.LLMMaxTokens)),
		genai.WithTemperature(config.LLMTemperature),
		genai.WithTimeout(config.LLMTimeout),
	}
	if flags.llmAPIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(flags.llmAPIKey))
	}
	return genaiOpts
}

// buildAlertOptions returns Twilio options, or nil when crisis alerts are not configured.
func buildAlertOptions(config Config) []alert.Option {
	if config.TwilioSID == "" && config.CrisisAlertTo == "" {
		return nil
	}
	return []alert.Option{
		alert.WithAccountSID(config.TwilioSID),
		alert.WithAuthToken(config.TwilioToken),
		alert.WithFrom(config.TwilioFrom),
		alert.WithTo(config.CrisisAlertTo),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	var apiOpts []api.Option
	if flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.apiAddr))
	}
	if config.ShutdownTimeout > 0 {
		apiOpts = append(apiOpts, api.WithShutdownTimeout(config.ShutdownTimeout))
	}
	return apiOpts
}

func buildComponents(flags Flags, config Config) api.Components {
	backend := resolveStoreBackend(flags)
	return api.Components{
		StoreBackend:       backend,
		Store:              buildStoreOptions(backend, flags, config),
		GenAI:              buildGenAIOptions(flags, config),
		Alert:              buildAlertOptions(config),
		ScriptFile:         flags.scriptFile,
		QuestionBankBucket: config.BankBucket,
		QuestionBankKey:    config.BankKey,
		AWSRegion:          config.AWSRegion,
		API:                buildAPIOptions(flags, config),
	}
}
