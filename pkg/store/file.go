package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zpam/mailclass/pkg/maxent"
)

// DefaultFilename is used when a save target is a directory
const DefaultFilename = "email_classifier_model.bin"

// ModelExt is the extension of model files
const ModelExt = ".bin"

// FileStore keeps models as files on the local filesystem
type FileStore struct {
	// DefaultFilename replaces the target when Save is given a directory
	DefaultFilename string

	// Location lookups used by SaveWithFallback
	HomeDir func() (string, error)
	WorkDir func() (string, error)
	TempDir func() string
	Now     func() time.Time

	logger zerolog.Logger
}

// NewFileStore creates a file store using the process environment
func NewFileStore() *FileStore {
	return &FileStore{
		DefaultFilename: DefaultFilename,
		HomeDir:         os.UserHomeDir,
		WorkDir:         os.Getwd,
		TempDir:         os.TempDir,
		Now:             time.Now,
		logger:          log.Logger,
	}
}

// WithLogger sets the logger used for fallback warnings
func (s *FileStore) WithLogger(logger zerolog.Logger) *FileStore {
	s.logger = logger
	return s
}

// Save writes m to path and returns the file actually written. A directory
// path gets DefaultFilename appended.
func (s *FileStore) Save(m *maxent.Model, path string) (string, error) {
	target := path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		target = filepath.Join(path, s.filename())
	}

	// best effort, the write below reports the real failure
	_ = os.MkdirAll(filepath.Dir(target), 0o755)

	if reason, err := writeModel(m, target); err != nil {
		return "", &WriteError{Path: target, Reason: reason, Err: err}
	}

	s.logger.Debug().Str("path", target).Str("model_id", m.ID()).Msg("Model saved")
	return target, nil
}

// writeModel encodes m into a temporary file next to target and renames it
// into place, so a failed write never leaves a partial model behind.
func writeModel(m *maxent.Model, target string) (Reason, error) {
	// an existing target must itself be writable
	if f, err := os.OpenFile(target, os.O_WRONLY, 0); err == nil {
		f.Close()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return reasonFor(err, ReasonTargetPermission), err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".model-*.tmp")
	if err != nil {
		return reasonFor(err, ReasonParentPermission), err
	}
	done := false
	defer func() {
		if !done {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := m.WriteTo(tmp); err != nil {
		return ReasonIO, err
	}
	if err := tmp.Close(); err != nil {
		return ReasonIO, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return reasonFor(err, ReasonParentPermission), err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return reasonFor(err, ReasonParentPermission), err
	}
	done = true
	return ReasonIO, nil
}

func reasonFor(err error, permission Reason) Reason {
	if errors.Is(err, fs.ErrPermission) {
		return permission
	}
	return ReasonIO
}

// SaveWithFallback tries preferred, then the user's Documents folder (or
// home), then the working directory, then the temp directory. Fallback
// locations get a fresh timestamped filename.
func (s *FileStore) SaveWithFallback(m *maxent.Model, preferred string) (string, error) {
	var attempts []string
	var last error

	if preferred != "" {
		attempts = append(attempts, preferred)
		path, err := s.Save(m, preferred)
		if err == nil {
			return path, nil
		}
		last = err
		s.logger.Warn().Err(err).Str("path", preferred).Msg("Failed to save model, trying fallback locations")
	}

	for _, dir := range s.fallbackDirs() {
		target := filepath.Join(dir, s.fallbackName())
		attempts = append(attempts, target)
		path, err := s.Save(m, target)
		if err == nil {
			s.logger.Info().Str("path", path).Msg("Model saved to fallback location")
			return path, nil
		}
		last = err
		s.logger.Warn().Err(err).Str("path", target).Msg("Fallback location failed")
	}

	if last == nil {
		last = errors.New("no candidate locations")
	}
	return "", &ExhaustedError{Attempts: attempts, Last: last}
}

func (s *FileStore) fallbackDirs() []string {
	var dirs []string
	if s.HomeDir != nil {
		if home, err := s.HomeDir(); err == nil && home != "" {
			docs := filepath.Join(home, "Documents")
			if info, err := os.Stat(docs); err == nil && info.IsDir() {
				dirs = append(dirs, docs)
			} else {
				dirs = append(dirs, home)
			}
		}
	}
	if s.WorkDir != nil {
		if wd, err := s.WorkDir(); err == nil && wd != "" {
			dirs = append(dirs, wd)
		}
	}
	if s.TempDir != nil {
		if tmp := s.TempDir(); tmp != "" {
			dirs = append(dirs, tmp)
		}
	}
	return dirs
}

func (s *FileStore) fallbackName() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return fmt.Sprintf("email_classifier_model_%d%s", now().UnixNano(), ModelExt)
}

func (s *FileStore) filename() string {
	if s.DefaultFilename == "" {
		return DefaultFilename
	}
	return s.DefaultFilename
}

// Load reads a model from path. A directory resolves to the first model file
// inside it in name order.
func (s *FileStore) Load(path string) (*maxent.Model, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, statError(path, err)
	}

	target := path
	if info.IsDir() {
		target, err = firstModel(path)
		if err != nil {
			return nil, err
		}
	}

	f, err := os.Open(target)
	if err != nil {
		return nil, statError(target, err)
	}
	defer f.Close()

	m, err := maxent.ReadModel(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptModel, target, err)
	}

	s.logger.Debug().Str("path", target).Str("model_id", m.ID()).Msg("Model loaded")
	return m, nil
}

func statError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermission, path)
	default:
		return fmt.Errorf("failed to access %s: %w", path, err)
	}
}

func firstModel(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", statError(dir, err)
	}
	// ReadDir returns entries sorted by name
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ModelExt) {
			continue
		}
		return filepath.Join(dir, entry.Name()), nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoModelFound, dir)
}

// ListModels returns the model files in dir, sorted by name
func ListModels(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, statError(dir, err)
	}
	var models []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ModelExt) {
			models = append(models, filepath.Join(dir, entry.Name()))
		}
	}
	return models, nil
}

// ModelExists reports whether path is an existing regular file
func (s *FileStore) ModelExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
