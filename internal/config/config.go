package config

import "time"

// Config is the root configuration for Factotum.
type Config struct {
	Gateway      GatewayConfig      `json:"gateway"`
	Models       ModelsConfig       `json:"models"`
	Store        StoreConfig        `json:"store"`
	Events       EventsConfig       `json:"events"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string   `json:"driver"` // "anthropic", "openai", "ollama"
	Model     string   `json:"model"`
	BaseURL   string   `json:"base_url,omitempty"`
	APIKey    string   `json:"api_key,omitempty"` // direct key or ${{ .Env.VAR }} template
	MaxTokens int      `json:"max_tokens,omitempty"`
	Timeout   Duration `json:"timeout,omitempty"`
}

// StoreConfig selects and configures the task store backend.
type StoreConfig struct {
	Driver string `json:"driver"` // "sqlite" | "file"
	Path   string `json:"path,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogDir     string `json:"log_dir,omitempty"`
}

// OrchestratorConfig holds workflow engine settings.
type OrchestratorConfig struct {
	MaxRetries    int `json:"max_retries"`    // default retry budget per task
	MaxIterations int `json:"max_iterations"` // tool-call iterations per step
}

// SchedulerConfig holds the scheduled-task sweep settings.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	SweepCron string `json:"sweep_cron"` // 5-field cron, default every minute
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
