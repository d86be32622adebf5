// Package backup snapshots notebooks before they are patched.
//
// Backups are append-only: a backup file is created exclusively and never
// overwritten, so every pre-patch state of a session can be restored.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/nbfix/internal/notebook"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// TimestampFormat sorts lexically in creation order.
const TimestampFormat = "20060102T150405.000000000"

const infix = ".backup."

// ErrNotBackup is returned when a path does not follow the backup naming scheme.
var ErrNotBackup = errors.New("not a backup path")

// Backup describes one snapshot.
type Backup struct {
	Path         string    `json:"path"`
	NotebookPath string    `json:"notebook_path"`
	Iteration    int       `json:"iteration"`
	CreatedAt    time.Time `json:"created_at"`
	Size         int64     `json:"size"`
}

// Store creates and restores backups next to the notebook.
type Store struct {
	fs     afero.Fs
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a Store.
func NewStore(fs afero.Fs, logger *zap.Logger) (*Store, error) {
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{fs: fs, logger: logger, now: time.Now}, nil
}

// PathFor returns the backup path for a notebook, timestamp and iteration.
func PathFor(notebookPath string, at time.Time, iteration int) string {
	return notebookPath + infix + at.UTC().Format(TimestampFormat) + "." + strconv.Itoa(iteration)
}

// Create copies the current notebook bytes to a new backup file.
func (s *Store) Create(ctx context.Context, notebookPath string, iteration int) (Backup, error) {
	if err := ctx.Err(); err != nil {
		return Backup{}, err
	}

	src, err := s.fs.Open(notebookPath)
	if err != nil {
		return Backup{}, fmt.Errorf("opening notebook for backup: %w", err)
	}
	defer src.Close()

	at := s.now()
	path := PathFor(notebookPath, at, iteration)

	dst, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return Backup{}, fmt.Errorf("creating backup %s: %w", path, err)
	}

	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		_ = s.fs.Remove(path)
		return Backup{}, fmt.Errorf("writing backup %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		_ = s.fs.Remove(path)
		return Backup{}, fmt.Errorf("closing backup %s: %w", path, err)
	}

	s.logger.Debug("backup created", zap.String("backup", path), zap.Int("iteration", iteration), zap.Int64("bytes", n))
	return Backup{Path: path, NotebookPath: notebookPath, Iteration: iteration, CreatedAt: at, Size: n}, nil
}

// Restore atomically replaces the notebook with the contents of a backup.
func (s *Store) Restore(ctx context.Context, backupPath, notebookPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := afero.ReadFile(s.fs, backupPath)
	if err != nil {
		return fmt.Errorf("reading backup %s: %w", backupPath, err)
	}
	if err := notebook.WriteAtomic(s.fs, notebookPath, data); err != nil {
		return fmt.Errorf("restoring %s: %w", notebookPath, err)
	}
	s.logger.Info("notebook restored from backup", zap.String("notebook", notebookPath), zap.String("backup", backupPath))
	return nil
}

// List returns the notebook's backups, oldest first.
func (s *Store) List(notebookPath string) ([]Backup, error) {
	matches, err := afero.Glob(s.fs, escapeGlob(notebookPath)+infix+"*")
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}

	out := make([]Backup, 0, len(matches))
	for _, m := range matches {
		b, err := Parse(m)
		if err != nil {
			continue
		}
		if info, err := s.fs.Stat(m); err == nil {
			b.Size = info.Size()
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Iteration < out[j].Iteration
	})
	return out, nil
}

// Parse recovers the notebook path, timestamp and iteration from a backup path.
func Parse(path string) (Backup, error) {
	idx := strings.LastIndex(path, infix)
	if idx < 0 {
		return Backup{}, fmt.Errorf("%w: %s", ErrNotBackup, path)
	}
	rest := path[idx+len(infix):]

	// the timestamp itself contains one dot, the iteration follows the last
	dot := strings.LastIndex(rest, ".")
	if dot < 0 {
		return Backup{}, fmt.Errorf("%w: %s", ErrNotBackup, path)
	}
	at, err := time.Parse(TimestampFormat, rest[:dot])
	if err != nil {
		return Backup{}, fmt.Errorf("%w: %s: %v", ErrNotBackup, path, err)
	}
	iteration, err := strconv.Atoi(rest[dot+1:])
	if err != nil {
		return Backup{}, fmt.Errorf("%w: %s: %v", ErrNotBackup, path, err)
	}
	return Backup{Path: path, NotebookPath: path[:idx], Iteration: iteration, CreatedAt: at}, nil
}

// escapeGlob quotes glob metacharacters in a literal path.
func escapeGlob(path string) string {
	dir, file := filepath.Split(path)
	var b strings.Builder
	for _, r := range file {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return dir + b.String()
}
