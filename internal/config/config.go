// Package config implements the launch pipeline's configuration loading:
// merge one or more YAML files into a single struct, then validate it.
//
// It is grounded on common/config/parse.go's overall idea — later files
// override earlier ones, a single validator.Validate pass runs over the
// merged result — adapted into a load/validate split with deterministic,
// field-sorted validation error output instead of iterating the validator's
// map directly.
package config

import (
	"fmt"
	"io/ioutil"
	"sort"
	"strings"
	"time"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"

	"github.com/ss75710541/marathon/internal/metrics"
)

// OfferProcessorConfig holds the two deadline budgets and the default
// decline duration recognized per SPEC_FULL.md §6.
type OfferProcessorConfig struct {
	OfferMatchingTimeout     time.Duration `yaml:"offerMatchingTimeout" validate:"nonzero"`
	SaveTasksToLaunchTimeout time.Duration `yaml:"saveTasksToLaunchTimeout" validate:"nonzero"`
	DeclineOfferDuration     time.Duration `yaml:"declineOfferDuration"`
}

// LauncherConfig holds per-launcher tunables.
type LauncherConfig struct {
	TaskLaunchNotificationTimeout time.Duration `yaml:"taskLaunchNotificationTimeout" validate:"nonzero"`
}

// RateLimiterConfig configures the exponential backoff policy shared by
// every application's launcher.
type RateLimiterConfig struct {
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
	Factor         float64       `yaml:"factor"`
}

// WorkerPoolConfig bounds how many offers' pipelines run concurrently.
type WorkerPoolConfig struct {
	MaxWorkers int `yaml:"maxWorkers"`
}

// LoggingConfig configures the process-wide logrus level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AppConfig is the launch pipeline's full recognized configuration.
type AppConfig struct {
	OfferProcessor OfferProcessorConfig `yaml:"offerProcessor"`
	Launcher       LauncherConfig       `yaml:"launcher"`
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	WorkerPool     WorkerPoolConfig     `yaml:"workerPool"`
	Metrics        metrics.Config       `yaml:"metrics"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// fieldError pairs one field that failed validation with the error
// validator.v2 produced for it.
type fieldError struct {
	field string
	err   error
}

// ValidationError reports every field that failed a validator.v2 struct tag
// after the config merge completed, in a stable field-name order rather
// than the randomized order a map would iterate in.
type ValidationError struct {
	fields []fieldError
}

func newValidationError(errMap validator.ErrorMap) ValidationError {
	fields := make([]fieldError, 0, len(errMap))
	for f, err := range errMap {
		fields = append(fields, fieldError{field: f, err: err})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].field < fields[j].field })
	return ValidationError{fields: fields}
}

// ErrForField returns the validation error attached to the given field, if
// any.
func (e ValidationError) ErrForField(name string) error {
	for _, f := range e.fields {
		if f.field == name {
			return f.err
		}
	}
	return nil
}

func (e ValidationError) Error() string {
	lines := make([]string, 0, len(e.fields))
	for _, f := range e.fields {
		lines = append(lines, fmt.Sprintf("%s: %v", f.field, f.err))
	}
	return "config validation failed: " + strings.Join(lines, "; ")
}

// Parse loads configFiles in order, merging each on top of the last, into
// cfg, then validates the merged result.
func Parse(cfg *AppConfig, configFiles ...string) error {
	if len(configFiles) == 0 {
		return fmt.Errorf("config: no files to load")
	}
	if err := mergeFiles(cfg, configFiles); err != nil {
		return err
	}
	return validateMerged(cfg)
}

// mergeFiles unmarshals each file onto cfg in turn, so a field set by a
// later file wins over the same field set by an earlier one.
func mergeFiles(cfg *AppConfig, configFiles []string) error {
	for _, fname := range configFiles {
		data, err := ioutil.ReadFile(fname)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parsing %s: %w", fname, err)
		}
	}
	return nil
}

// validateMerged runs the struct-tag validation pass and translates a
// validator.ErrorMap into this package's own ValidationError shape.
func validateMerged(cfg *AppConfig) error {
	err := validator.Validate(cfg)
	if err == nil {
		return nil
	}
	errMap, ok := err.(validator.ErrorMap)
	if !ok {
		return err
	}
	return newValidationError(errMap)
}
