package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/sellhub/pkg/observability"
	"github.com/platinummonkey/sellhub/pkg/split"
)

// ErrUnknownFeePlan is returned when neither the plan nor the default exists
var ErrUnknownFeePlan = errors.New("unknown fee plan")

// FeeSchedule maps fee plan names to platform fee rules
type FeeSchedule struct {
	DefaultPlan string                   `yaml:"default_plan"`
	Plans       map[string]split.FeeRule `yaml:"plans"`
}

// DefaultFeeSchedule is used when no schedule file is configured
func DefaultFeeSchedule() *FeeSchedule {
	return &FeeSchedule{
		DefaultPlan: "standard",
		Plans: map[string]split.FeeRule{
			"standard": {PercentBps: 999, FixedCents: 149},
			"pro":      {PercentBps: 699, FixedCents: 99},
		},
	}
}

// Validate checks the default plan exists and every rule is usable
func (s *FeeSchedule) Validate() error {
	if len(s.Plans) == 0 {
		return fmt.Errorf("fee schedule has no plans")
	}
	if _, ok := s.Plans[s.DefaultPlan]; !ok {
		return fmt.Errorf("default fee plan %q is not defined", s.DefaultPlan)
	}
	for name, rule := range s.Plans {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("fee plan %q: %w", name, err)
		}
	}
	return nil
}

// Rule returns the plan's rule, falling back to the default plan
func (s *FeeSchedule) Rule(plan string) (split.FeeRule, error) {
	if rule, ok := s.Plans[plan]; ok {
		return rule, nil
	}
	if rule, ok := s.Plans[s.DefaultPlan]; ok {
		return rule, nil
	}
	return split.FeeRule{}, fmt.Errorf("%w: %s", ErrUnknownFeePlan, plan)
}

// ParseFeeSchedule decodes and validates a YAML schedule
func ParseFeeSchedule(data []byte) (*FeeSchedule, error) {
	var schedule FeeSchedule
	if err := yaml.Unmarshal(data, &schedule); err != nil {
		return nil, fmt.Errorf("failed to parse fee schedule: %w", err)
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// LoadFeeSchedule reads a schedule file
func LoadFeeSchedule(path string) (*FeeSchedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fee schedule: %w", err)
	}
	return ParseFeeSchedule(data)
}

// FeeScheduleStore holds the current schedule and swaps it atomically when
// the backing file changes. Orders being settled see either the old or the
// new schedule, never a partial one.
type FeeScheduleStore struct {
	path    string
	current atomic.Pointer[FeeSchedule]
	logger  *observability.Logger
}

// NewFeeScheduleStore loads the schedule at path, or the default schedule
// when path is empty
func NewFeeScheduleStore(path string, logger *observability.Logger) (*FeeScheduleStore, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s := &FeeScheduleStore{path: path, logger: logger.WithField("component", "fee_schedule")}

	if path == "" {
		s.current.Store(DefaultFeeSchedule())
		return s, nil
	}

	schedule, err := LoadFeeSchedule(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(schedule)
	return s, nil
}

// Current returns the active schedule
func (s *FeeScheduleStore) Current() *FeeSchedule {
	return s.current.Load()
}

// Rule resolves a plan against the active schedule
func (s *FeeScheduleStore) Rule(plan string) (split.FeeRule, error) {
	return s.Current().Rule(plan)
}

// Reload re-reads the file. An invalid file keeps the previous schedule.
func (s *FeeScheduleStore) Reload() error {
	if s.path == "" {
		return nil
	}
	schedule, err := LoadFeeSchedule(s.path)
	if err != nil {
		return err
	}
	s.current.Store(schedule)
	return nil
}

// Watch reloads the schedule on file changes until ctx is cancelled. The
// directory is watched so that editors replacing the file by rename are seen.
func (s *FeeScheduleStore) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch fee schedule: %w", err)
	}

	target := filepath.Clean(s.path)
	observability.Go(s.logger, "fee-schedule-watch", func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.WithError(err).Warn("Keeping previous fee schedule")
					continue
				}
				s.logger.WithField("plans", len(s.Current().Plans)).Info("Fee schedule reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.WithError(err).Warn("Fee schedule watcher error")
			}
		}
	})
	return nil
}
