package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath  string `long:"db-path" env:"DB_PATH" default:"./data/curioread.db" description:"Path to the SQLite database file"`
	DataDir string `long:"data-dir" env:"DATA_DIR" default:"./data/articles" description:"Directory for scraped article content"`

	// Application configuration
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for admin endpoints (optional)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for session processing"`
	DrainWorkerCount  int    `long:"drain-worker-count" env:"DRAIN_WORKER_COUNT" default:"1" description:"Number of workers for draining pending sessions"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"30" description:"Scheduler interval in seconds"`
	QueueSlots        int    `long:"queue-slots" env:"QUEUE_SLOTS" default:"2" description:"Concurrent active sessions allowed per user"`
	MaxRetries        int    `long:"max-retries" env:"MAX_RETRIES" default:"3" description:"Retry budget for question generation before a session is skipped"`
	FreshnessDays     int    `long:"freshness-days" env:"FRESHNESS_DAYS" default:"30" description:"Days within which scraped content is reused without re-fetching"`
	StallMinutes      int    `long:"stall-minutes" env:"STALL_MINUTES" default:"10" description:"Minutes before an in-flight claim is considered stalled and recoverable"`
	MinContentLength  int    `long:"min-content-length" env:"MIN_CONTENT_LENGTH" default:"500" description:"Minimum extracted text length to accept an article"`

	// LLM configuration
	LLMEndpoint string `long:"llm-endpoint" env:"LLM_ENDPOINT" default:"https://api.openai.com/v1/chat/completions" description:"OpenAI-compatible chat completions endpoint"`
	LLMAPIKey   string `long:"llm-api-key" env:"LLM_API_KEY" description:"API key for the LLM endpoint"`
	LLMModel    string `long:"llm-model" env:"LLM_MODEL" default:"gpt-4o-mini" description:"Model name for analysis and question generation"`
	PromptsFile string `long:"prompts-file" env:"PROMPTS_FILE" description:"Optional YAML file overriding the built-in prompts"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"CurioRead/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		DataDir:           raw.DataDir,
		Port:              raw.Port,
		APIAccessKey:      raw.APIAccessKey,
		WorkerCount:       raw.WorkerCount,
		DrainWorkerCount:  raw.DrainWorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		QueueSlots:        raw.QueueSlots,
		MaxRetries:        raw.MaxRetries,
		FreshnessDays:     raw.FreshnessDays,
		StallMinutes:      raw.StallMinutes,
		MinContentLength:  raw.MinContentLength,
		LLMEndpoint:       raw.LLMEndpoint,
		LLMAPIKey:         raw.LLMAPIKey,
		LLMModel:          raw.LLMModel,
		PromptsFile:       raw.PromptsFile,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set replaces the global configuration. Intended for tests.
func Set(c *Cfg) {
	globalCfg = c
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
