package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// ErrNoRuns is returned by Latest for an organization without recorded runs.
var ErrNoRuns = errors.New("no recorded runs")

// RunLog stores completed runs as one document each below dataDir/runs/<org>.
type RunLog struct {
	dir   string
	codec *codec
}

// NewRunLog creates a RunLog.
func NewRunLog(dataDir string, encryptionEnabled bool) (*RunLog, error) {
	c, err := newCodec(encryptionEnabled)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(dataDir, "runs")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}
	return &RunLog{dir: dir, codec: c}, nil
}

// RecordRun implements attendance.RunRecorder.
func (l *RunLog) RecordRun(ctx context.Context, result *attendance.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if result == nil {
		return errors.New("nil run result")
	}
	if err := checkOrgID(result.OrgID); err != nil {
		return err
	}
	if result.RunID == "" || strings.ContainsAny(result.RunID, `/\`) {
		return fmt.Errorf("invalid run id %q", result.RunID)
	}

	// The timestamp prefix keeps file names in chronological order.
	name := result.StartedAt.UTC().Format("20060102T150405.000000000") + "_" + result.RunID + l.codec.ext()
	path := filepath.Join(l.dir, result.OrgID, name)
	if err := l.codec.save(path, result); err != nil {
		return err
	}
	logging.Component("storage").WithField("run_id", result.RunID).Debugf("Recorded run for %s", result.OrgID)
	return nil
}

// Runs returns the recorded runs of orgID, oldest first.
func (l *RunLog) Runs(ctx context.Context, orgID string) ([]attendance.RunResult, error) {
	if err := checkOrgID(orgID); err != nil {
		return nil, err
	}
	dir := filepath.Join(l.dir, orgID)
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []attendance.RunResult{}, nil
		}
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var names []string
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), l.codec.ext()) {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	runs := make([]attendance.RunResult, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r attendance.RunResult
		if err := l.codec.load(filepath.Join(dir, name), &r); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// Latest returns the most recent run of orgID.
func (l *RunLog) Latest(ctx context.Context, orgID string) (*attendance.RunResult, error) {
	runs, err := l.Runs(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoRuns, orgID)
	}
	return &runs[len(runs)-1], nil
}
