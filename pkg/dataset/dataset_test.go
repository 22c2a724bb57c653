package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, contents ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i, content := range contents {
		name := filepath.Join(dir, fmt.Sprintf("mail%02d.eml", i))
		require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
	}
}

// fakeSource serves items from memory and fails reads listed in broken
type fakeSource struct {
	name   string
	items  map[string]string
	order  []string
	broken map[string]bool
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Items() ([]string, error) { return f.order, nil }

func (f *fakeSource) ReadItem(item string) (string, error) {
	if f.broken[item] {
		return "", errors.New("read failed")
	}
	return f.items[item], nil
}

func TestLoadDirs(t *testing.T) {
	root := t.TempDir()
	spamDir := filepath.Join(root, "spam")
	hamDir := filepath.Join(root, "ham")
	writeFiles(t, spamDir, "Buy now!", "Free money")
	writeFiles(t, hamDir, "Meeting at 10", "Invoice attached", "Lunch?")

	// hidden files and sub-directories are not samples
	require.NoError(t, os.WriteFile(filepath.Join(hamDir, ".DS_Store"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(hamDir, "nested"), 0o755))

	ds, err := NewLoader().WithLogger(zerolog.Nop()).LoadDirs(spamDir, hamDir)
	require.NoError(t, err)

	assert.Equal(t, []string{"Buy now!", "Free money"}, ds[Spam])
	assert.Equal(t, []string{"Meeting at 10", "Invoice attached", "Lunch?"}, ds[Ham])
	assert.Equal(t, []string{Ham, Spam}, ds.Categories())
	assert.Equal(t, 5, ds.Size())
}

func TestLoadFailsOnBadSource(t *testing.T) {
	root := t.TempDir()
	hamDir := filepath.Join(root, "ham")
	writeFiles(t, hamDir, "hello")

	emptyDir := filepath.Join(root, "empty")
	require.NoError(t, os.Mkdir(emptyDir, 0o755))

	plainFile := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(plainFile, []byte("x"), 0o644))

	loader := NewLoader().WithLogger(zerolog.Nop())

	tests := []struct {
		name    string
		spamDir string
	}{
		{"missing directory", filepath.Join(root, "nope")},
		{"empty directory", emptyDir},
		{"not a directory", plainFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := loader.LoadDirs(tt.spamDir, hamDir)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDataset), "got %v", err)
			assert.Nil(t, ds)
		})
	}
}

func TestLoadSkipsUnreadableItems(t *testing.T) {
	var logs bytes.Buffer
	loader := NewLoader().WithLogger(zerolog.New(&logs))

	spam := &fakeSource{
		name:   "spam",
		items:  map[string]string{"a": "win cash", "b": "", "c": "free pills"},
		order:  []string{"a", "b", "c"},
		broken: map[string]bool{"b": true},
	}
	ham := &fakeSource{
		name:  "ham",
		items: map[string]string{"x": "see you at lunch"},
		order: []string{"x"},
	}

	ds, err := loader.Load(spam, ham)
	require.NoError(t, err)
	assert.Equal(t, []string{"win cash", "free pills"}, ds[Spam])
	assert.Equal(t, []string{"see you at lunch"}, ds[Ham])
	assert.Contains(t, logs.String(), `"item":"b"`)
	assert.Contains(t, logs.String(), `"level":"warn"`)
}

func TestLoadFailsWhenNothingReadable(t *testing.T) {
	spam := &fakeSource{
		name:   "spam",
		items:  map[string]string{"a": "x"},
		order:  []string{"a"},
		broken: map[string]bool{"a": true},
	}
	ham := &fakeSource{name: "ham", items: map[string]string{"x": "y"}, order: []string{"x"}}

	_, err := NewLoader().WithLogger(zerolog.Nop()).Load(spam, ham)
	assert.ErrorIs(t, err, ErrDataset)
}

func TestHasEnoughSamples(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spam")
	writeFiles(t, dir, "one", "two", "three")

	assert.True(t, HasEnoughSamples(dir, 3))
	assert.False(t, HasEnoughSamples(dir, 4))
	assert.False(t, HasEnoughSamples(filepath.Join(dir, "missing"), 1))
}

func TestSamplesOrder(t *testing.T) {
	ds := Dataset{Spam: {"s1", "s2"}, Ham: {"h1"}}
	assert.Equal(t, []Sample{
		{Category: Ham, Text: "h1"},
		{Category: Spam, Text: "s1"},
		{Category: Spam, Text: "s2"},
	}, ds.Samples())
}
