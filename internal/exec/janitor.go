package exec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultJanitorSchedule = "@every 10m"

// Janitor periodically removes temp artifacts the local backend failed to
// clean up, e.g. after a crash mid-execution.
type Janitor struct {
	dir      string
	schedule string
	maxAge   time.Duration
	cron     *cron.Cron
	log      *zap.Logger
	now      func() time.Time
}

// NewJanitor sweeps dir on schedule, removing entries older than maxAge.
func NewJanitor(dir, schedule string, maxAge time.Duration, log *zap.Logger) *Janitor {
	if dir == "" {
		dir = os.TempDir()
	}
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{
		dir:      dir,
		schedule: schedule,
		maxAge:   maxAge,
		cron:     cron.New(),
		log:      log,
		now:      time.Now,
	}
}

func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		if n, err := j.Sweep(); err != nil {
			j.log.Warn("temp sweep failed", zap.Error(err))
		} else if n > 0 {
			j.log.Info("temp sweep removed stale artifacts", zap.Int("removed", n))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule temp sweep: %w", err)
	}
	j.cron.Start()
	j.log.Info("temp janitor started", zap.String("schedule", j.schedule), zap.String("dir", j.dir))
	return nil
}

func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep removes stale entries carrying TempPrefix and reports how many went.
func (j *Janitor) Sweep() (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0, err
	}
	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), TempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(j.dir, e.Name())); err != nil {
			j.log.Debug("remove stale artifact", zap.String("name", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
