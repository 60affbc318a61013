package domain

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/Vovarama1992/go-utils/logger"
	"go.uber.org/multierr"
)

type SweepReport struct {
	Sessions int `json:"sessions"`
	Files    int `json:"files"`
}

// Janitor reclaims staged sessions that stopped growing and temp files left
// behind by runs that never finished.
type Janitor struct {
	assembler *UploadAssembler
	dirs      []string
	ttl       time.Duration
	interval  time.Duration
	log       *logger.ZapLogger
	now       func() time.Time
}

func NewJanitor(assembler *UploadAssembler, ttl, interval time.Duration, log *logger.ZapLogger, tempDirs ...string) *Janitor {
	return &Janitor{
		assembler: assembler,
		dirs:      tempDirs,
		ttl:       ttl,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
}

// Run sweeps once, then on every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	j.sweepAndLog(ctx)
	if j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Log(logger.LogEntry{Level: "info", Message: "[JANITOR][STOP]"})
			return
		case <-ticker.C:
			j.sweepAndLog(ctx)
		}
	}
}

func (j *Janitor) sweepAndLog(ctx context.Context) {
	rep, err := j.Sweep(ctx)
	entry := logger.LogEntry{
		Level:   "info",
		Message: "[JANITOR][SWEEP]",
		Fields:  map[string]any{"sessions": rep.Sessions, "files": rep.Files},
	}
	if err != nil {
		entry.Level = "warn"
		entry.Error = err
	} else if rep.Sessions == 0 && rep.Files == 0 {
		return
	}
	j.log.Log(entry)
}

func (j *Janitor) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	cutoff := j.now().Add(-j.ttl)

	n, errs := j.assembler.Expire(ctx, cutoff)
	rep.Sessions = n

	for _, dir := range j.dirs {
		removed, err := removeOlder(dir, cutoff)
		rep.Files += removed
		errs = multierr.Append(errs, err)
	}
	return rep, errs
}

// removeOlder deletes regular files directly inside dir last modified before
// cutoff. A missing dir is not an error.
func removeOlder(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	var errs error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
