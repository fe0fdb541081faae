// Package sessionstore persists the authenticated browser state of an identity
// so that later runs can skip the interactive login.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/courier-cli/internal/browser"
	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/failure"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const recordSuffix = "-state.json"

// ErrNoRecord is returned by Age and Load when no record exists for an identity.
var ErrNoRecord = errors.New("no session record")

// Record is the persisted form of one identity's session.
type Record struct {
	Identity  string                `json:"identity"`
	CreatedAt time.Time             `json:"createdAt"`
	State     *browser.StorageState `json:"state"`
}

// Bootstrapper performs the interactive first login for an identity and returns
// the resulting authenticated state.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, identity string) (*browser.StorageState, error)
}

// BootstrapFunc adapts a function to Bootstrapper.
type BootstrapFunc func(ctx context.Context, identity string) (*browser.StorageState, error)

func (f BootstrapFunc) Bootstrap(ctx context.Context, identity string) (*browser.StorageState, error) {
	return f(ctx, identity)
}

// Store owns the record files under one directory. It writes exactly one file per
// identity and replaces it atomically.
type Store struct {
	fs           afero.Fs
	dir          string
	maxAge       time.Duration
	bootstrapper Bootstrapper
	logger       *zap.Logger
	now          func() time.Time

	group singleflight.Group
}

// New creates a Store on the OS filesystem.
func New(cfg config.SessionConfig, bootstrapper Bootstrapper, logger *zap.Logger) *Store {
	return NewWithFs(afero.NewOsFs(), cfg, bootstrapper, logger)
}

// NewWithFs creates a Store on fs.
func NewWithFs(fs afero.Fs, cfg config.SessionConfig, bootstrapper Bootstrapper, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		fs:           fs,
		dir:          cfg.Dir,
		maxAge:       cfg.MaxAge,
		bootstrapper: bootstrapper,
		logger:       logger.Named("session"),
		now:          time.Now,
	}
}

// MaxAge is the age after which Prune discards a record.
func (s *Store) MaxAge() time.Duration { return s.maxAge }

// Path is the record location for identity.
func (s *Store) Path(identity string) string {
	return filepath.Join(s.dir, identity+recordSuffix)
}

func validIdentity(identity string) error {
	if identity == "" || identity == "." || identity == ".." || strings.ContainsAny(identity, `/\`) {
		return fmt.Errorf("invalid session identity %q", identity)
	}
	return nil
}

// LoadOrCreate returns the record path for identity, bootstrapping a new session
// when none exists. An existing record is returned without an age check; Prune
// is responsible for staleness.
//
// Concurrent calls for the same identity share a single bootstrap.
func (s *Store) LoadOrCreate(ctx context.Context, identity string) (string, error) {
	if err := validIdentity(identity); err != nil {
		return "", err
	}
	path := s.Path(identity)

	if exists, err := afero.Exists(s.fs, path); err != nil {
		return "", failure.Infrastructure("session-load", err)
	} else if exists {
		s.logger.Info("Reusing persisted session.", zap.String("identity", identity), zap.String("path", path))
		return path, nil
	}

	ch := s.group.DoChan(identity, func() (interface{}, error) {
		// Another caller may have finished between the check above and here.
		if exists, _ := afero.Exists(s.fs, path); exists {
			return path, nil
		}
		return path, s.bootstrap(ctx, identity, path)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Store) bootstrap(ctx context.Context, identity, path string) error {
	if s.bootstrapper == nil {
		return failure.New(failure.KindSessionBootstrapFailed, "session-bootstrap",
			fmt.Errorf("no session for %q and interactive login is unavailable", identity))
	}

	s.logger.Info("No persisted session, starting interactive login.", zap.String("identity", identity))
	state, err := s.bootstrapper.Bootstrap(ctx, identity)
	if err != nil {
		if ctx.Err() != nil || failure.KindOf(err) == failure.KindInfrastructure {
			return err
		}
		var fe *failure.Error
		if errors.As(err, &fe) && fe.Kind == failure.KindSessionBootstrapFailed {
			return err
		}
		bootErr := failure.New(failure.KindSessionBootstrapFailed, "session-bootstrap", err)
		if errors.As(err, &fe) {
			bootErr.Artifact = fe.Artifact
		}
		return bootErr
	}

	rec := &Record{Identity: identity, CreatedAt: s.now().UTC(), State: state}
	if err := s.Save(path, rec); err != nil {
		return failure.Infrastructure("session-save", err)
	}
	s.logger.Info("Session bootstrapped and saved.", zap.String("identity", identity), zap.String("path", path))
	return nil
}

// Load reads and decodes the record at path.
func (s *Store) Load(path string) (*Record, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNoRecord)
		}
		return nil, fmt.Errorf("failed to read session record %s: %w", path, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session record %s: %w", path, err)
	}
	if rec.State == nil {
		return nil, fmt.Errorf("session record %s has no state", path)
	}
	return &rec, nil
}

// Save writes rec to path through a temporary file and a rename, so a crash never
// leaves a partial record behind.
func (s *Store) Save(path string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write session record: %w", errors.Join(writeErr, closeErr))
	}
	if err := s.fs.Chmod(tmpName, 0o600); err != nil {
		s.logger.Debug("Could not restrict session file permissions.", zap.Error(err))
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to move session record into place: %w", err)
	}
	return nil
}

// Age is the time since identity's record was last written.
func (s *Store) Age(identity string) (time.Duration, error) {
	info, err := s.fs.Stat(s.Path(identity))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoRecord
		}
		return 0, err
	}
	return s.now().Sub(info.ModTime()), nil
}

// Prune deletes identity's record if it is older than the maximum age or cannot
// be decoded. It reports whether a file was removed. A missing record is not an
// error.
func (s *Store) Prune(identity string) (bool, error) {
	if err := validIdentity(identity); err != nil {
		return false, err
	}
	path := s.Path(identity)

	age, err := s.Age(identity)
	if errors.Is(err, ErrNoRecord) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect session record %s: %w", path, err)
	}

	reason := ""
	switch {
	case age > s.maxAge:
		reason = "stale"
	default:
		if _, err := s.Load(path); err != nil {
			reason = "unreadable"
		}
	}
	if reason == "" {
		return false, nil
	}

	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to remove session record %s: %w", path, err)
	}
	s.logger.Info("Removed session record.",
		zap.String("identity", identity),
		zap.String("reason", reason),
		zap.Duration("age", age.Round(time.Second)),
		zap.Duration("max_age", s.maxAge),
	)
	return true, nil
}

// Remove deletes identity's record unconditionally. A missing record is not an error.
func (s *Store) Remove(identity string) error {
	if err := validIdentity(identity); err != nil {
		return err
	}
	if err := s.fs.Remove(s.Path(identity)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session record: %w", err)
	}
	return nil
}

// Status describes the record of one identity for display.
type Status struct {
	Identity string
	Path     string
	Exists   bool
	Age      time.Duration
	Stale    bool
	Record   *Record
	Err      error
}

// Inspect reports on identity's record without changing anything.
func (s *Store) Inspect(identity string) Status {
	st := Status{Identity: identity, Path: s.Path(identity)}
	age, err := s.Age(identity)
	if errors.Is(err, ErrNoRecord) {
		return st
	}
	if err != nil {
		st.Err = err
		return st
	}
	st.Exists = true
	st.Age = age
	st.Stale = age > s.maxAge
	st.Record, st.Err = s.Load(st.Path)
	return st
}
