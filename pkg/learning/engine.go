package learning

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zpam/mailclass/pkg/dataset"
	"github.com/zpam/mailclass/pkg/maxent"
	"github.com/zpam/mailclass/pkg/store"
	"github.com/zpam/mailclass/pkg/text"
)

// Classifier scores raw email text
type Classifier interface {
	Classify(text string) (Result, error)
}

// Result maps each model category to its probability. Values sum to 1.
type Result map[string]float64

// Best returns the most probable category. Ties resolve to the
// alphabetically first category.
func (r Result) Best() (string, float64) {
	categories := make([]string, 0, len(r))
	for c := range r {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	best, bestProb := "", -1.0
	for _, c := range categories {
		if r[c] > bestProb {
			best, bestProb = c, r[c]
		}
	}
	return best, bestProb
}

// TrainOutcome is delivered once by TrainAsync
type TrainOutcome struct {
	Accuracy float64
	Err      error
}

// asyncProgressBuffer holds every event a training run can produce
const asyncProgressBuffer = 32

// Engine holds the current model. It starts untrained and becomes ready after
// a successful Train or Load; it never goes back. Classify is safe to call
// from many goroutines, Train and Load are expected to be serialized by the
// owner.
type Engine struct {
	mu       sync.RWMutex
	model    *maxent.Model
	accuracy float64
	measured bool

	trainer *Trainer
	store   store.Store
	logger  zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithTrainer sets the trainer used by Train
func WithTrainer(t *Trainer) Option {
	return func(e *Engine) { e.trainer = t }
}

// WithStore sets the store used by Load and Save
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets the engine logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an untrained engine backed by a FileStore and a default
// Trainer unless options say otherwise
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: log.Logger}
	for _, opt := range opts {
		opt(e)
	}
	if e.trainer == nil {
		e.trainer = NewTrainer().WithLogger(e.logger)
	}
	if e.store == nil {
		e.store = store.NewFileStore().WithLogger(e.logger)
	}
	return e
}

// Classify returns the probability of every category for raw text
func (e *Engine) Classify(raw string) (Result, error) {
	m := e.Model()
	if m == nil {
		return nil, ErrNotTrained
	}

	probs := m.Categorize(text.Process(raw))
	result := make(Result, len(probs))
	for i, category := range m.CategoryList() {
		result[category] = probs[i]
	}
	return result, nil
}

// Train fits a new model on ds and swaps it in. On failure the current model
// is kept.
func (e *Engine) Train(ds dataset.Dataset, progress chan<- float64) (float64, error) {
	model, accuracy, err := e.trainer.Train(ds, progress)
	if err != nil {
		e.logger.Error().Err(err).Msg("Training failed")
		return 0, err
	}

	e.mu.Lock()
	e.model = model
	e.accuracy = accuracy
	e.measured = true
	e.mu.Unlock()

	return accuracy, nil
}

// TrainAsync runs Train on its own goroutine. The progress channel is closed
// when training ends; the outcome channel then yields exactly one value.
func (e *Engine) TrainAsync(ds dataset.Dataset) (<-chan float64, <-chan TrainOutcome) {
	progress := make(chan float64, asyncProgressBuffer)
	outcome := make(chan TrainOutcome, 1)

	go func() {
		defer close(outcome)
		accuracy, err := e.Train(ds, progress)
		close(progress)
		outcome <- TrainOutcome{Accuracy: accuracy, Err: err}
	}()

	return progress, outcome
}

// Load replaces the current model with the one stored under ref
func (e *Engine) Load(ref string) error {
	model, err := e.store.Load(ref)
	if err != nil {
		return &ModelLoadError{Ref: ref, Err: err}
	}

	e.mu.Lock()
	e.model = model
	e.accuracy = 0
	e.measured = false
	e.mu.Unlock()

	e.logger.Info().
		Str("ref", ref).
		Str("model_id", model.ID()).
		Strs("categories", model.CategoryList()).
		Msg("Model loaded")
	return nil
}

// Save writes the current model to the store and returns where it landed
func (e *Engine) Save(ref string) (string, error) {
	m := e.Model()
	if m == nil {
		return "", ErrNotTrained
	}
	return e.store.Save(m, ref)
}

// IsTrained reports whether a model is available
func (e *Engine) IsTrained() bool {
	return e.Model() != nil
}

// Model returns the current model, nil when untrained
func (e *Engine) Model() *maxent.Model {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

// Accuracy returns the held-out accuracy of the last Train. The flag is false
// when the model was loaded rather than trained.
func (e *Engine) Accuracy() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.accuracy, e.measured
}

var _ Classifier = (*Engine)(nil)
