package app

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// RootDir is the history store location. Empty means the default data dir.
	RootDir string `yaml:"root_dir"`

	AutoSave            bool `yaml:"auto_save"`
	DeleteOnClearing    bool `yaml:"delete_on_clearing"`
	ContinueLastSession bool `yaml:"continue_last_session"`
	// ExpirationDays purges sessions not updated for this many days. Zero
	// disables the sweep.
	ExpirationDays int `yaml:"expiration_days"`

	AutoGenerateTitle    bool `yaml:"auto_generate_title"`
	RefreshEveryNPrompts int  `yaml:"refresh_every_n_prompts"`
	MaxTitleRefreshes    int  `yaml:"max_title_refreshes"`

	SummaryContextBudget      int  `yaml:"summary_context_budget"`
	SummaryIncludeReferences  bool `yaml:"summary_include_references"`
	SummaryIncludeToolOutputs bool `yaml:"summary_include_tool_outputs"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	TitleModel    string `yaml:"title_model"`
	SummaryModel  string `yaml:"summary_model"`
}

func DefaultConfig() Config {
	return Config{
		AutoSave:             true,
		DeleteOnClearing:     false,
		ContinueLastSession:  true,
		ExpirationDays:       0,
		AutoGenerateTitle:    true,
		RefreshEveryNPrompts: 3,
		MaxTitleRefreshes:    3,
		SummaryContextBudget: 90_000,
		TitleModel:           "gpt-4o-mini",
		SummaryModel:         "gpt-4o-mini",
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultConfigPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.MaxTitleRefreshes < 0 {
		cfg.MaxTitleRefreshes = 0
	}
	if cfg.RefreshEveryNPrompts < 0 {
		cfg.RefreshEveryNPrompts = 0
	}
	if cfg.SummaryContextBudget <= 0 {
		cfg.SummaryContextBudget = 90_000
	}
	if cfg.TitleModel == "" {
		cfg.TitleModel = "gpt-4o-mini"
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.TitleModel
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "chathist", "config.yml")
}
