package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// PipelineConfig is the declarative pipeline file: steps plus observer subjects.
type PipelineConfig struct {
	Steps     []StepConfig     `mapstructure:"steps"`
	Observers []ObserverConfig `mapstructure:"observers"`
}

type StepConfig struct {
	Subject   string `mapstructure:"subject"`
	Direction string `mapstructure:"direction"`
	Order     int    `mapstructure:"order"`
	Pattern   string `mapstructure:"pattern"`
	Condition string `mapstructure:"condition"`
}

type ObserverConfig struct {
	Subject string `mapstructure:"subject"`
}

// DefaultPipelineConfig forwards every request straight to its own subject.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Steps: []StepConfig{
			{Subject: "*", Direction: "incoming", Order: 1, Pattern: "request"},
		},
	}
}

// LoadPipeline parses a pipeline file. An empty path yields the default pipeline.
func LoadPipeline(path string) (*PipelineConfig, error) {
	if path == "" {
		return DefaultPipelineConfig(), nil
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read pipeline config file %s: %w", path, err)
	}

	var cfg PipelineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline config: %w", err)
	}

	for i, step := range cfg.Steps {
		if step.Subject == "" {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("steps[%d].subject", i),
				Message: "step subject is required",
			}
		}
	}

	for i, observer := range cfg.Observers {
		if observer.Subject == "" {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("observers[%d].subject", i),
				Message: "observer subject is required",
			}
		}
	}

	return &cfg, nil
}
