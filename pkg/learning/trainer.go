package learning

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zpam/mailclass/pkg/dataset"
	"github.com/zpam/mailclass/pkg/maxent"
	"github.com/zpam/mailclass/pkg/text"
)

// Progress milestones sent on the progress channel
const (
	progressProcessed = 0.5
	progressTrained   = 0.9
	progressDone      = 1.0

	// minimum advance between two events while processing samples
	progressStep = 0.05
)

// Sample is a labeled, tokenized email
type Sample struct {
	Category string
	Tokens   []string
}

// Shuffler permutes n elements through swap. rand.Shuffle satisfies it.
type Shuffler func(n int, swap func(i, j int))

// Trainer turns a dataset into a model and measures it on a held-out split
type Trainer struct {
	// Params is passed to the maxent trainer
	Params maxent.Params

	// TrainRatio is the share of shuffled samples used for training
	TrainRatio float64

	// SmallCorpusSize is the training partition size below which the
	// feature cutoff is lowered to 1 when AutoCutoff is set. A cutoff of 3
	// over a handful of samples leaves almost no features.
	SmallCorpusSize int

	// AutoCutoff allows lowering the cutoff on small corpora. Clear it to
	// train with Params.Cutoff as given.
	AutoCutoff bool

	// Shuffle orders samples before the split
	Shuffle Shuffler

	logger zerolog.Logger
}

// NewTrainer creates a trainer with default parameters
func NewTrainer() *Trainer {
	return &Trainer{
		Params:          maxent.DefaultParams(),
		TrainRatio:      0.8,
		SmallCorpusSize: 50,
		AutoCutoff:      true,
		Shuffle:         rand.Shuffle,
		logger:          log.Logger,
	}
}

// WithLogger sets the trainer logger
func (t *Trainer) WithLogger(logger zerolog.Logger) *Trainer {
	t.logger = logger
	return t
}

// Train processes ds, splits it, trains a model on the first part and
// returns it with its accuracy on the rest. Progress values in [0,1] are
// sent on progress in non-decreasing order; a nil channel disables
// reporting. Sends block, so the caller must drain the channel or give it
// enough buffer.
func (t *Trainer) Train(ds dataset.Dataset, progress chan<- float64) (*maxent.Model, float64, error) {
	if ds.Size() == 0 {
		return nil, 0, &TrainingError{Stage: "prepare", Err: errors.New("dataset is empty")}
	}
	for _, category := range ds.Categories() {
		if len(ds[category]) == 0 {
			return nil, 0, &TrainingError{Stage: "prepare", Err: fmt.Errorf("category %q has no samples", category)}
		}
	}

	samples := t.process(ds, progress)
	send(progress, progressProcessed)

	shuffle := t.Shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})

	split := int(float64(len(samples)) * t.TrainRatio)
	if split <= 0 {
		return nil, 0, &TrainingError{Stage: "split", Err: fmt.Errorf("training partition is empty for %d samples", len(samples))}
	}
	if split > len(samples) {
		split = len(samples)
	}
	trainSet, evalSet := samples[:split], samples[split:]

	params := t.Params
	if t.AutoCutoff && len(trainSet) < t.SmallCorpusSize && params.Cutoff > 1 {
		t.logger.Info().
			Int("samples", len(trainSet)).
			Int("cutoff", params.Cutoff).
			Msg("Small training set, lowering feature cutoff to 1")
		params.Cutoff = 1
	}

	events := make([]maxent.Event, len(trainSet))
	for i, s := range trainSet {
		events[i] = maxent.Event{Outcome: s.Category, Context: s.Tokens}
	}

	t.logger.Info().
		Int("train", len(trainSet)).
		Int("eval", len(evalSet)).
		Int("iterations", params.Iterations).
		Int("cutoff", params.Cutoff).
		Msg("Training model")

	model, err := maxent.Train(events, params)
	if err != nil {
		return nil, 0, &TrainingError{Stage: "train", Err: err}
	}
	send(progress, progressTrained)

	accuracy := t.evaluate(model, evalSet)
	send(progress, progressDone)

	t.logger.Info().
		Str("model_id", model.ID()).
		Int("predicates", model.NumPredicates()).
		Int("iterations_run", model.IterationsRun()).
		Float64("accuracy", accuracy).
		Msg("Training complete")

	return model, accuracy, nil
}

func (t *Trainer) process(ds dataset.Dataset, progress chan<- float64) []Sample {
	raw := ds.Samples()
	samples := make([]Sample, len(raw))
	last := 0.0
	for i, r := range raw {
		samples[i] = Sample{Category: r.Category, Tokens: text.Process(r.Text)}

		p := float64(i+1) / float64(len(raw)) * progressProcessed
		if p-last >= progressStep {
			send(progress, p)
			last = p
		}
	}
	return samples
}

func (t *Trainer) evaluate(model *maxent.Model, evalSet []Sample) float64 {
	if len(evalSet) == 0 {
		t.logger.Warn().Msg("Evaluation set is empty, reporting accuracy 0")
		return 0
	}

	correct := 0
	for _, s := range evalSet {
		if model.BestCategory(model.Categorize(s.Tokens)) == s.Category {
			correct++
		}
	}
	return float64(correct) / float64(len(evalSet))
}

func send(progress chan<- float64, value float64) {
	if progress != nil {
		progress <- value
	}
}
