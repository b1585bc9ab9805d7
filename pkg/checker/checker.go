// Package checker assembles the attendance engine from configuration: the
// dlib recognizer and its scorers, the match engine, the storage backend and
// the reconciler.
package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
	"github.com/MrCodeEU/facecheck/pkg/config"
	"github.com/MrCodeEU/facecheck/pkg/imageio"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/match"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
	"github.com/MrCodeEU/facecheck/pkg/storage"
	"github.com/MrCodeEU/facecheck/pkg/storage/postgres"
)

// Recognizer is the face engine behind the descriptor scorers and the
// landmark detector. *recognition.DlibRecognizer implements it.
type Recognizer interface {
	recognition.Describer
	recognition.FaceDetector
	LoadModels(path string) error
	Close() error
}

// HistoryReader returns the presence history of an organization.
type HistoryReader interface {
	History(ctx context.Context, orgID string) ([]storage.PresenceRecord, error)
}

// RunReader returns the latest recorded run of an organization.
type RunReader interface {
	Latest(ctx context.Context, orgID string) (*attendance.RunResult, error)
}

// RosterStore lists organizations and replaces their rosters.
type RosterStore interface {
	SavePeople(ctx context.Context, orgID string, people []attendance.Person) error
	Organizations(ctx context.Context) ([]string, error)
}

// Stores bundles the adapters of one storage backend.
type Stores struct {
	Gallery  attendance.GalleryProvider
	People   attendance.PersonDirectory
	Roster   RosterStore
	Sink     attendance.PresenceSink
	Recorder attendance.RunRecorder
	History  HistoryReader
	Runs     RunReader

	closer io.Closer
}

// Close releases backend resources.
func (s *Stores) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// OpenStores opens the configured storage backend. Galleries are always read
// from the data directory.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	gallery := storage.NewGalleryDir(cfg.Storage.DataDir, cfg.Recognition.MaxImageSize)

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := postgres.Open(ctx, &cfg.Storage.Database)
		if err != nil {
			return nil, err
		}
		ledger := postgres.NewLedger(pool)
		directory := postgres.NewDirectory(pool)
		return &Stores{
			Gallery:  gallery,
			People:   directory,
			Roster:   directory,
			Sink:     ledger,
			Recorder: ledger,
			History:  ledger,
			Runs:     ledger,
			closer:   pool,
		}, nil

	case config.BackendFile:
		ledger, err := storage.NewLedger(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ledger: %w", err)
		}
		runs, err := storage.NewRunLog(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize run log: %w", err)
		}
		roster := storage.NewRoster(cfg.Storage.DataDir)
		return &Stores{
			Gallery:  gallery,
			People:   roster,
			Roster:   roster,
			Sink:     ledger,
			Recorder: runs,
			History:  ledger,
			Runs:     runs,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Checker is a fully wired attendance engine.
type Checker struct {
	config     *config.Config
	recognizer Recognizer
	stores     *Stores
	fetcher    *imageio.Fetcher
	matcher    *match.Matcher
	reconciler *attendance.Reconciler
}

// New loads the dlib models, opens the storage backend and wires the engine.
func New(ctx context.Context, cfg *config.Config) (*Checker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rec := recognition.NewRecognizer()
	if err := rec.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return nil, fmt.Errorf("failed to load recognition models: %w", err)
	}

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		rec.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	c, err := NewWithDependencies(cfg, rec, stores)
	if err != nil {
		stores.Close()
		rec.Close()
		return nil, err
	}
	return c, nil
}

// NewWithDependencies wires the engine around an already loaded recognizer
// and opened stores.
func NewWithDependencies(cfg *config.Config, rec Recognizer, stores *Stores) (*Checker, error) {
	if rec == nil {
		return nil, errors.New("recognizer not configured")
	}
	if stores == nil {
		return nil, errors.New("stores not configured")
	}

	matcher, err := BuildMatcher(cfg, rec)
	if err != nil {
		return nil, err
	}

	fetcher := imageio.NewFetcher(cfg.Storage.DataDir)
	fetcher.MaxSize = cfg.Recognition.MaxImageSize
	if cfg.Fetch.TimeoutSeconds > 0 {
		fetcher.Timeout = time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second
	}
	if cfg.Fetch.MaxBytes > 0 {
		fetcher.MaxBytes = cfg.Fetch.MaxBytes
	}

	reconciler, err := attendance.NewReconciler(attendance.Dependencies{
		Gallery:  stores.Gallery,
		People:   stores.People,
		Fetcher:  fetcher,
		Matcher:  matcher,
		Sink:     stores.Sink,
		Recorder: stores.Recorder,
	}, cfg.Reconciler.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	return &Checker{
		config:     cfg,
		recognizer: rec,
		stores:     stores,
		fetcher:    fetcher,
		matcher:    matcher,
		reconciler: reconciler,
	}, nil
}

// Close releases all resources.
func (c *Checker) Close() {
	if c.stores != nil {
		if err := c.stores.Close(); err != nil {
			logging.Warnf("Failed to close storage: %v", err)
		}
	}
	if c.recognizer != nil {
		_ = c.recognizer.Close()
	}
}

// Reconciler returns the wired reconciler.
func (c *Checker) Reconciler() *attendance.Reconciler {
	return c.reconciler
}

// Stores returns the opened storage adapters.
func (c *Checker) Stores() *Stores {
	return c.stores
}

// Run performs an attendance run for orgID.
func (c *Checker) Run(ctx context.Context, orgID string, opts attendance.RunOptions) (*attendance.RunResult, error) {
	return c.reconciler.Run(ctx, orgID, opts)
}

// Check runs the attendance check for a single person, given by id or name.
// The result carries the per-candidate diagnostics in People[0].Report.
func (c *Checker) Check(ctx context.Context, orgID, person string) (*attendance.RunResult, error) {
	return c.reconciler.Run(ctx, orgID, attendance.RunOptions{
		PersonIDs: []string{person},
		Workers:   1,
	})
}
