// Package watch re-checks the links of completed audit projects on a fixed interval.
package watch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/linkcheck"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// LinkChecker checks every link of a project. *linkcheck.Checker satisfies it.
type LinkChecker interface {
	CheckProject(ctx context.Context, projectID string) (<-chan linkcheck.Progress, error)
}

// Scheduler periodically re-checks the links of completed projects
type Scheduler struct {
	checker  LinkChecker
	store    storage.ProjectStore
	only     []string // Project ids to watch; empty watches every completed project
	interval time.Duration
	state    *StateManager
	log      *logrus.Entry
}

// NewScheduler creates a Scheduler that keeps its state in stateDir
func NewScheduler(checker LinkChecker, store storage.ProjectStore, projectIDs []string, interval time.Duration, stateDir string, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		checker:  checker,
		store:    store,
		only:     projectIDs,
		interval: interval,
		state:    NewStateManager(stateDir, nil),
		log:      log,
	}
}

// State exposes the scheduler's state manager
func (s *Scheduler) State() *StateManager { return s.state }

// Run re-checks due projects immediately and then on every tick until ctx is done.
// It returns early with ErrFeatureUnavailable when link checks are not enabled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.state.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}
	s.log.Infof("Starting link watch with interval %s", FormatInterval(s.interval))

	if _, err := s.RunDue(ctx); errors.Is(err, utils.ErrFeatureUnavailable) {
		return err
	}

	ticker := time.NewTicker(tickInterval(s.interval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Link watch shutting down")
			return nil
		case <-ticker.C:
			if _, err := s.RunDue(ctx); errors.Is(err, utils.ErrFeatureUnavailable) {
				return err
			}
		}
	}
}

// RunDue re-checks every due project in turn and saves the state file.
// It returns the ids that were checked.
func (s *Scheduler) RunDue(ctx context.Context) ([]string, error) {
	due, err := s.dueProjects(ctx)
	if err != nil {
		s.log.Errorf("Listing projects failed: %v", err)
		return nil, err
	}
	if len(due) == 0 {
		s.logNextRun(ctx)
		return nil, nil
	}
	s.log.Infof("Re-checking links for %d projects", len(due))

	var checked []string
	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		n, broken, err := s.checkProject(ctx, id)
		if errors.Is(err, utils.ErrFeatureUnavailable) {
			return checked, err
		}
		s.state.Record(id, n, broken, err)
		checked = append(checked, id)
	}

	if err := s.state.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
	s.logNextRun(ctx)
	return checked, nil
}

func (s *Scheduler) checkProject(ctx context.Context, projectID string) (checked, broken int, err error) {
	log := s.log.WithField("project_id", projectID)
	ch, err := s.checker.CheckProject(ctx, projectID)
	if err != nil {
		if !errors.Is(err, utils.ErrFeatureUnavailable) {
			log.Errorf("Link re-check failed: %v", err)
		}
		return 0, 0, err
	}

	var persistErrs []error
	for p := range ch {
		if p.PersistErr != nil {
			persistErrs = append(persistErrs, p.PersistErr)
		}
		if p.Done {
			checked, broken, err = p.Checked, p.Broken, p.Err
		}
	}
	if err == nil && len(persistErrs) > 0 {
		err = fmt.Errorf("%d batches not saved: %w", len(persistErrs), persistErrs[0])
	}
	log.WithFields(logrus.Fields{"checked": checked, "broken": broken}).Info("Link re-check finished")
	return checked, broken, err
}

func (s *Scheduler) dueProjects(ctx context.Context) ([]string, error) {
	projects, err := s.store.ListAuditProjects(ctx)
	if err != nil {
		return nil, err
	}
	var due []string
	for _, p := range projects {
		if p.Status != models.ProjectStatusCompleted {
			continue
		}
		if len(s.only) > 0 && !slices.Contains(s.only, p.ID) {
			continue
		}
		if s.state.ShouldRun(p.ID, s.interval) {
			due = append(due, p.ID)
		}
	}
	return due, nil
}

func (s *Scheduler) logNextRun(ctx context.Context) {
	projects, err := s.store.ListAuditProjects(ctx)
	if err != nil || len(projects) == 0 {
		return
	}
	type next struct {
		id string
		at time.Time
	}
	var runs []next
	for _, p := range projects {
		if p.Status == models.ProjectStatusCompleted && (len(s.only) == 0 || slices.Contains(s.only, p.ID)) {
			runs = append(runs, next{p.ID, s.state.NextRunTime(p.ID, s.interval)})
		}
	}
	if len(runs) == 0 {
		return
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].at.Before(runs[j].at) })
	until := max(time.Until(runs[0].at), 0)
	s.log.Infof("Next link check: %s in %v (at %s)", runs[0].id, until.Round(time.Second), runs[0].at.Format("15:04:05"))
}

// tickInterval checks for due projects every tenth of the interval, between one and ten minutes
func tickInterval(interval time.Duration) time.Duration {
	return min(max(interval/10, time.Minute), 10*time.Minute)
}

// FormatInterval formats a duration using d/h/m/s units
func FormatInterval(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h, m := int(d.Hours()), int(d.Minutes())%60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days, h := int(d.Hours())/24, int(d.Hours())%24
	if h > 0 {
		return fmt.Sprintf("%dd%dh", days, h)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a Go duration, also accepting a leading day count such as "7d" or "1d12h"
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var days int
	var rest string
	if n, _ := fmt.Sscanf(s, "%dd%s", &days, &rest); n >= 1 {
		d := time.Duration(days) * 24 * time.Hour
		if rest != "" {
			extra, err := time.ParseDuration(rest)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}
	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
