package reconcile

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ScheduleFile is the declarative form of reconciliation schedules,
// loaded at startup and upserted into the store. Operators keep it in
// version control next to their deployment config.
type ScheduleFile struct {
	Schedules []ScheduleEntry `yaml:"schedules"`
}

// ScheduleEntry is one schedule declaration.
type ScheduleEntry struct {
	ID       string `yaml:"id"`
	TenantID string `yaml:"tenant"`
	CronExpr string `yaml:"cron"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// LoadScheduleFile reads and validates a YAML schedule declaration.
// Every entry needs an id, a tenant and a parseable cron expression;
// duplicate ids are rejected.
func LoadScheduleFile(path string) ([]Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reconcile: read schedule file: %w", err)
	}

	var file ScheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("reconcile: parse schedule file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Schedules))
	schedules := make([]Schedule, 0, len(file.Schedules))
	for i, entry := range file.Schedules {
		if entry.ID == "" {
			return nil, fmt.Errorf("reconcile: schedule file %s: entry %d has no id", path, i)
		}
		if seen[entry.ID] {
			return nil, fmt.Errorf("reconcile: schedule file %s: duplicate schedule id %q", path, entry.ID)
		}
		seen[entry.ID] = true
		if entry.TenantID == "" {
			return nil, fmt.Errorf("reconcile: schedule file %s: schedule %q has no tenant", path, entry.ID)
		}
		if _, err := NextRun(entry.CronExpr, time.Now()); err != nil {
			return nil, fmt.Errorf("reconcile: schedule file %s: schedule %q: %w", path, entry.ID, err)
		}
		schedules = append(schedules, Schedule{
			ID:       entry.ID,
			TenantID: entry.TenantID,
			CronExpr: entry.CronExpr,
			Enabled:  !entry.Disabled,
		})
	}
	return schedules, nil
}
