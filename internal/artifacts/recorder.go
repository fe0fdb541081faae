// Package artifacts writes diagnostic screenshots for failed operations.
package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const timestampLayout = "20060102-150405.000"

// Screenshotter produces a full-page PNG of its current state.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Recorder writes captures as <dir>/<op>-<timestamp>.png.
type Recorder struct {
	fs     afero.Fs
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// NewRecorder creates a Recorder writing to dir on the OS filesystem.
func NewRecorder(dir string, logger *zap.Logger) *Recorder {
	return NewRecorderFs(afero.NewOsFs(), dir, logger)
}

// NewRecorderFs creates a Recorder on an arbitrary filesystem.
func NewRecorderFs(fs afero.Fs, dir string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{fs: fs, dir: dir, now: time.Now, logger: logger.Named("artifacts")}
}

// Dir is the directory captures are written to.
func (r *Recorder) Dir() string { return r.dir }

// EnsureDir creates the capture directory if it does not exist yet.
func (r *Recorder) EnsureDir() error {
	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory %s: %w", r.dir, err)
	}
	return nil
}

// Capture screenshots s and writes the image for op. It returns the written path.
func (r *Recorder) Capture(ctx context.Context, s Screenshotter, op string) (string, error) {
	png, err := s.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture %s: %w", op, err)
	}
	if err := r.EnsureDir(); err != nil {
		return "", err
	}

	path := filepath.Join(r.dir, fileName(op, r.now()))
	if err := afero.WriteFile(r.fs, path, png, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	r.logger.Info("Diagnostic screenshot saved.", zap.String("op", op), zap.String("path", path))
	return path, nil
}

// For binds the recorder to one screenshot source, giving a value that only
// needs an operation name.
func (r *Recorder) For(s Screenshotter) *Capturer {
	return &Capturer{recorder: r, source: s}
}

// Capturer is a Recorder bound to a page.
type Capturer struct {
	recorder *Recorder
	source   Screenshotter
}

func (c *Capturer) Capture(ctx context.Context, op string) (string, error) {
	return c.recorder.Capture(ctx, c.source, op)
}

// fileName keeps op readable while making it safe as a path component.
func fileName(op string, at time.Time) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, op)
	if clean == "" {
		clean = "capture"
	}
	return fmt.Sprintf("%s-%s.png", clean, at.Format(timestampLayout))
}
