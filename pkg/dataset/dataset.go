// Package dataset assembles labeled email corpora for training.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Category names used by convention
const (
	Spam = "spam"
	Ham  = "ham"
)

// ErrDataset is matched by every error caused by a missing or unusable corpus source
var ErrDataset = errors.New("dataset error")

// Dataset maps a category name to its email bodies
type Dataset map[string][]string

// Categories returns the category names in sorted order
func (d Dataset) Categories() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the total number of samples across categories
func (d Dataset) Size() int {
	total := 0
	for _, texts := range d {
		total += len(texts)
	}
	return total
}

// Samples flattens the dataset, categories in sorted order
func (d Dataset) Samples() []Sample {
	samples := make([]Sample, 0, d.Size())
	for _, category := range d.Categories() {
		for _, text := range d[category] {
			samples = append(samples, Sample{Category: category, Text: text})
		}
	}
	return samples
}

// Sample is one labeled email body before any processing
type Sample struct {
	Category string
	Text     string
}

// Source is a readable collection of text items for one category
type Source interface {
	Name() string
	Items() ([]string, error)
	ReadItem(item string) (string, error)
}

// DirSource reads every regular, non-hidden file of a directory
type DirSource struct {
	path string
}

// Dir returns a Source over the files in path
func Dir(path string) *DirSource {
	return &DirSource{path: path}
}

// Name returns the directory path
func (d *DirSource) Name() string {
	return d.path
}

// Items lists the files of the directory in name order
func (d *DirSource) Items() ([]string, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: directory does not exist: %s", ErrDataset, d.path)
		}
		return nil, fmt.Errorf("%w: %v", ErrDataset, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", ErrDataset, d.path)
	}

	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %v", ErrDataset, d.path, err)
	}

	var items []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		items = append(items, entry.Name())
	}
	return items, nil
}

// ReadItem reads one file as UTF-8 text
func (d *DirSource) ReadItem(item string) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.path, item))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Loader builds datasets from category sources
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a loader logging through the global logger
func NewLoader() *Loader {
	return &Loader{logger: log.Logger}
}

// WithLogger returns a copy of the loader using logger
func (l *Loader) WithLogger(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger}
}

// LoadDirs loads spam and ham emails from two directories
func (l *Loader) LoadDirs(spamDir, hamDir string) (Dataset, error) {
	return l.Load(Dir(spamDir), Dir(hamDir))
}

// Load reads the spam and ham sources into a Dataset. Unreadable items are
// skipped with a warning; a source that is missing or yields nothing fails
// the whole load.
func (l *Loader) Load(spam, ham Source) (Dataset, error) {
	l.logger.Info().Str("spam", spam.Name()).Str("ham", ham.Name()).Msg("Loading dataset")

	ds := make(Dataset, 2)
	for _, src := range []struct {
		category string
		source   Source
	}{{Spam, spam}, {Ham, ham}} {
		texts, err := l.loadSource(src.source)
		if err != nil {
			return nil, err
		}
		ds[src.category] = texts
		l.logger.Info().Str("category", src.category).Int("count", len(texts)).Msg("Loaded emails")
	}

	return ds, nil
}

func (l *Loader) loadSource(src Source) ([]string, error) {
	items, err := src.Items()
	if err != nil {
		if errors.Is(err, ErrDataset) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to enumerate %s: %v", ErrDataset, src.Name(), err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no files found in %s", ErrDataset, src.Name())
	}

	texts := make([]string, 0, len(items))
	for _, item := range items {
		content, err := src.ReadItem(item)
		if err != nil {
			l.logger.Warn().Err(err).Str("source", src.Name()).Str("item", item).Msg("Failed to read file, skipping")
			continue
		}
		texts = append(texts, content)
	}

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no readable files in %s", ErrDataset, src.Name())
	}
	return texts, nil
}

// HasEnoughSamples reports whether dir holds at least minCount sample files
func HasEnoughSamples(dir string, minCount int) bool {
	items, err := Dir(dir).Items()
	if err != nil {
		return false
	}
	return len(items) >= minCount
}
