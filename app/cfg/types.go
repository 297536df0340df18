package cfg

type Cfg struct {
	// Storage configuration
	DBPath  string
	DataDir string

	// Application configuration
	Port              string
	APIAccessKey      string
	WorkerCount       int
	DrainWorkerCount  int
	SchedulerInterval int
	QueueSlots        int
	MaxRetries        int
	FreshnessDays     int
	StallMinutes      int
	MinContentLength  int

	// LLM configuration
	LLMEndpoint string
	LLMAPIKey   string
	LLMModel    string
	PromptsFile string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
