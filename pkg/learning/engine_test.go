package learning

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpam/mailclass/pkg/dataset"
	"github.com/zpam/mailclass/pkg/store"
)

const (
	spamQuery = "Congratulations! You won a free prize worth $10,000"
	hamQuery  = "Hi John, can we schedule a meeting for tomorrow?"
)

func sampleDataset() dataset.Dataset {
	return dataset.Dataset{
		dataset.Spam: {
			"Buy now! Limited offer on viagra and other pills.",
			"Congratulations! You've won $1,000,000 in lottery.",
			"URGENT: Your bank account will be suspended.",
			"Amazing investment opportunity, 500% return guaranteed!",
			"Free money, click here to claim your prize now!",
		},
		dataset.Ham: {
			"Meeting scheduled for tomorrow at 10 AM.",
			"Please review the attached document and provide feedback.",
			"Your monthly invoice is attached for review.",
			"Hello, how are you doing? Let's catch up sometime.",
			"The project deadline has been extended to next Friday.",
		},
	}
}

// holdOut moves the first spam and the last ham sample into the evaluation
// split. Samples arrive ham first, then spam.
func holdOut(n int, swap func(i, j int)) {
	swap(4, n-1)
	swap(5, n-2)
}

func newTestTrainer() *Trainer {
	t := NewTrainer().WithLogger(zerolog.Nop())
	t.Shuffle = holdOut
	return t
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	fs := store.NewFileStore().WithLogger(zerolog.Nop())
	return NewEngine(
		WithTrainer(newTestTrainer()),
		WithStore(fs),
		WithLogger(zerolog.Nop()),
	)
}

func sumResult(r Result) float64 {
	total := 0.0
	for _, p := range r {
		total += p
	}
	return total
}

func TestClassifyBeforeTraining(t *testing.T) {
	e := newTestEngine(t)
	assert.False(t, e.IsTrained())
	assert.Nil(t, e.Model())

	result, err := e.Classify(spamQuery)
	assert.ErrorIs(t, err, ErrNotTrained)
	assert.Nil(t, result)

	_, err = e.Save(t.TempDir())
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestTrainAndClassify(t *testing.T) {
	e := newTestEngine(t)

	accuracy, err := e.Train(sampleDataset(), nil)
	require.NoError(t, err)
	assert.True(t, e.IsTrained())
	assert.GreaterOrEqual(t, accuracy, 0.0)
	assert.LessOrEqual(t, accuracy, 1.0)

	got, measured := e.Accuracy()
	assert.True(t, measured)
	assert.Equal(t, accuracy, got)

	spam, err := e.Classify(spamQuery)
	require.NoError(t, err)
	assert.Len(t, spam, 2)
	assert.InDelta(t, 1.0, sumResult(spam), 1e-6)
	assert.Greater(t, spam[dataset.Spam], spam[dataset.Ham])
	best, _ := spam.Best()
	assert.Equal(t, dataset.Spam, best)

	ham, err := e.Classify(hamQuery)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sumResult(ham), 1e-6)
	assert.Greater(t, ham[dataset.Ham], ham[dataset.Spam])
}

func TestTrainWithRandomSplit(t *testing.T) {
	e := NewEngine(WithLogger(zerolog.Nop()), WithStore(store.NewFileStore().WithLogger(zerolog.Nop())))

	accuracy, err := e.Train(sampleDataset(), nil)
	require.NoError(t, err)
	assert.True(t, e.IsTrained())
	assert.GreaterOrEqual(t, accuracy, 0.0)
	assert.LessOrEqual(t, accuracy, 1.0)

	for _, query := range []string{spamQuery, hamQuery, "", "completely unknown words"} {
		result, err := e.Classify(query)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, sumResult(result), 1e-6, "query %q", query)
		for category, p := range result {
			assert.True(t, p >= 0 && p <= 1, "%s probability %f", category, p)
		}
	}
}

func TestSmallCorpusCutoff(t *testing.T) {
	tests := []struct {
		name       string
		autoCutoff bool
		want       int
	}{
		{"lowered automatically", true, 1},
		{"explicit cutoff kept", false, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trainer := newTestTrainer()
			trainer.Params.Cutoff = 3
			trainer.AutoCutoff = tt.autoCutoff

			model, _, err := trainer.Train(sampleDataset(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, model.Params().Cutoff)
		})
	}
}

func TestTrainProgress(t *testing.T) {
	progress := make(chan float64, 64)

	_, _, err := newTestTrainer().Train(sampleDataset(), progress)
	require.NoError(t, err)
	close(progress)

	var values []float64
	for p := range progress {
		values = append(values, p)
	}

	require.NotEmpty(t, values)
	for i, p := range values {
		assert.True(t, p >= 0 && p <= 1, "progress %f out of range", p)
		if i > 0 {
			assert.GreaterOrEqual(t, p, values[i-1], "progress went backwards")
		}
	}
	assert.Contains(t, values, 0.5)
	assert.Contains(t, values, 0.9)
	assert.Equal(t, 1.0, values[len(values)-1])
}

func TestTrainAsync(t *testing.T) {
	e := newTestEngine(t)

	progress, outcome := e.TrainAsync(sampleDataset())

	last := 0.0
	for p := range progress {
		assert.GreaterOrEqual(t, p, last)
		last = p
	}
	assert.Equal(t, 1.0, last)

	result := <-outcome
	require.NoError(t, result.Err)
	assert.True(t, e.IsTrained())

	_, ok := <-outcome
	assert.False(t, ok, "outcome channel is closed after one value")
}

func TestTrainErrors(t *testing.T) {
	tests := []struct {
		name string
		ds   dataset.Dataset
	}{
		{"empty dataset", dataset.Dataset{}},
		{"empty category", dataset.Dataset{dataset.Spam: {"free money"}, dataset.Ham: {}}},
		{"too small to split", dataset.Dataset{dataset.Spam: {"free money"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			_, err := e.Train(tt.ds, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTraining)

			var terr *TrainingError
			assert.True(t, errors.As(err, &terr))
			assert.False(t, e.IsTrained())
		})
	}
}

func TestFailedTrainKeepsModel(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Train(sampleDataset(), nil)
	require.NoError(t, err)
	before := e.Model()

	_, err = e.Train(dataset.Dataset{}, nil)
	require.Error(t, err)
	assert.Same(t, before, e.Model())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	trained := newTestEngine(t)
	_, err := trained.Train(sampleDataset(), nil)
	require.NoError(t, err)

	path, err := trained.Save(filepath.Join(dir, "model.bin"))
	require.NoError(t, err)

	loaded := newTestEngine(t)
	require.NoError(t, loaded.Load(path))
	assert.True(t, loaded.IsTrained())
	_, measured := loaded.Accuracy()
	assert.False(t, measured)

	for _, query := range []string{spamQuery, hamQuery, "Your invoice"} {
		want, err := trained.Classify(query)
		require.NoError(t, err)
		got, err := loaded.Classify(query)
		require.NoError(t, err)
		for category, p := range want {
			assert.InDelta(t, p, got[category], 1e-9, "query %q category %s", query, category)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	e := newTestEngine(t)

	err := e.Load(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.ErrorIs(t, err, store.ErrNotFound)

	var lerr *ModelLoadError
	assert.True(t, errors.As(err, &lerr))
	assert.False(t, e.IsTrained())

	err = e.Load(t.TempDir())
	assert.ErrorIs(t, err, store.ErrNoModelFound)
}

func TestLoadUnreadableModel(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}

	trained := newTestEngine(t)
	_, err := trained.Train(sampleDataset(), nil)
	require.NoError(t, err)
	path, err := trained.Save(filepath.Join(t.TempDir(), "model.bin"))
	require.NoError(t, err)
	require.NoError(t, os.Chmod(path, 0o000))
	t.Cleanup(func() { os.Chmod(path, 0o644) })

	e := newTestEngine(t)
	err = e.Load(path)
	assert.ErrorIs(t, err, ErrModelLoad)
	assert.ErrorIs(t, err, store.ErrPermission)
	assert.False(t, e.IsTrained())
}

func TestConcurrentClassify(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Train(sampleDataset(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Classify(spamQuery)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestResultBest(t *testing.T) {
	best, p := Result{"spam": 0.7, "ham": 0.3}.Best()
	assert.Equal(t, "spam", best)
	assert.Equal(t, 0.7, p)

	best, _ = Result{"spam": 0.5, "ham": 0.5}.Best()
	assert.Equal(t, "ham", best)
}
