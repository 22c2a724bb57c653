// Package maxent implements a maximum entropy document classifier trained
// with Generalized Iterative Scaling over bag-of-words contexts.
package maxent

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoEvents is returned when Train is called without training events
	ErrNoEvents = errors.New("maxent: no training events")

	// ErrCorruptModel is returned when a serialized model cannot be decoded
	ErrCorruptModel = errors.New("maxent: corrupt model")
)

// Event is one labeled training context
type Event struct {
	Outcome string
	Context []string
}

// Params controls training
type Params struct {
	// Iterations bounds the number of GIS passes
	Iterations int `json:"iterations" yaml:"iterations"`

	// Cutoff is the minimum number of events a predicate must occur in
	Cutoff int `json:"cutoff" yaml:"cutoff"`

	// Threshold stops training early once the log-likelihood gain of a
	// pass drops below it
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// DefaultParams returns 100 iterations, cutoff 3 and a 1e-4 threshold
func DefaultParams() Params {
	return Params{
		Iterations: 100,
		Cutoff:     3,
		Threshold:  1e-4,
	}
}

type param struct {
	outcome int
	weight  float64
}

// Model is a trained classifier. It is never modified after Train or
// ReadModel returns it, so it is safe for concurrent use.
type Model struct {
	id         string
	createdAt  time.Time
	params     Params
	events     int
	iterations int

	outcomes   []string
	bias       []float64
	predicates map[string]int
	names      []string
	weights    [][]param
}

// Train fits a model on events. Outcomes are ordered by first appearance.
func Train(events []Event, p Params) (*Model, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	if p.Iterations < 1 {
		return nil, fmt.Errorf("maxent: iterations must be >= 1, got %d", p.Iterations)
	}
	if p.Cutoff < 1 {
		p.Cutoff = 1
	}

	idx := index(events, p.Cutoff)
	m := &Model{
		id:         uuid.NewString(),
		createdAt:  time.Now().UTC(),
		params:     p,
		events:     len(events),
		outcomes:   idx.outcomes,
		bias:       make([]float64, len(idx.outcomes)),
		predicates: make(map[string]int, len(idx.names)),
		names:      idx.names,
		weights:    make([][]param, len(idx.names)),
	}
	for i, name := range idx.names {
		m.predicates[name] = i
		for _, o := range idx.observedOutcomes[i] {
			m.weights[i] = append(m.weights[i], param{outcome: o})
		}
	}

	m.iterations = m.gis(idx, p)
	return m, nil
}

// indexed holds events compiled against the retained predicates
type indexed struct {
	outcomes []string
	names    []string

	// per event: outcome index and (predicate, count) pairs
	eventOutcome []int
	eventPreds   [][]int
	eventCounts  [][]float64

	observedOutcomes [][]int
	observed         [][]float64 // aligned with observedOutcomes
	observedBias     []float64
	correction       float64
}

func index(events []Event, cutoff int) *indexed {
	// document frequency of every predicate
	df := make(map[string]int)
	for _, ev := range events {
		seen := make(map[string]bool, len(ev.Context))
		for _, tok := range ev.Context {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}

	var names []string
	for name, count := range df {
		if count >= cutoff {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	predIndex := make(map[string]int, len(names))
	for i, name := range names {
		predIndex[name] = i
	}

	idx := &indexed{names: names}
	outcomeIndex := make(map[string]int)
	observed := make([]map[int]float64, len(names))

	for _, ev := range events {
		o, ok := outcomeIndex[ev.Outcome]
		if !ok {
			o = len(idx.outcomes)
			outcomeIndex[ev.Outcome] = o
			idx.outcomes = append(idx.outcomes, ev.Outcome)
			idx.observedBias = append(idx.observedBias, 0)
		}
		idx.observedBias[o]++

		counts := make(map[int]float64)
		var order []int
		for _, tok := range ev.Context {
			p, ok := predIndex[tok]
			if !ok {
				continue
			}
			if _, dup := counts[p]; !dup {
				order = append(order, p)
			}
			counts[p]++
		}

		active := 1.0 // bias
		preds := make([]int, len(order))
		values := make([]float64, len(order))
		for i, p := range order {
			preds[i] = p
			values[i] = counts[p]
			active += counts[p]
			if observed[p] == nil {
				observed[p] = make(map[int]float64)
			}
			observed[p][o] += counts[p]
		}
		if active > idx.correction {
			idx.correction = active
		}

		idx.eventOutcome = append(idx.eventOutcome, o)
		idx.eventPreds = append(idx.eventPreds, preds)
		idx.eventCounts = append(idx.eventCounts, values)
	}

	idx.observedOutcomes = make([][]int, len(names))
	idx.observed = make([][]float64, len(names))
	for p, byOutcome := range observed {
		outs := make([]int, 0, len(byOutcome))
		for o := range byOutcome {
			outs = append(outs, o)
		}
		sort.Ints(outs)
		idx.observedOutcomes[p] = outs
		for _, o := range outs {
			idx.observed[p] = append(idx.observed[p], byOutcome[o])
		}
	}

	return idx
}

// gis runs the scaling passes and returns how many were performed
func (m *Model) gis(idx *indexed, p Params) int {
	nOutcomes := len(m.outcomes)
	scores := make([]float64, nOutcomes)
	expectedBias := make([]float64, nOutcomes)
	expected := make([][]float64, len(m.weights))
	for i := range m.weights {
		expected[i] = make([]float64, len(m.weights[i]))
	}

	prevLL := math.Inf(-1)
	iter := 0
	for iter < p.Iterations {
		iter++

		for i := range expected {
			clear(expected[i])
		}
		clear(expectedBias)

		ll := 0.0
		for e, outcome := range idx.eventOutcome {
			preds, values := idx.eventPreds[e], idx.eventCounts[e]
			m.eval(preds, values, scores)
			ll += math.Log(scores[outcome])

			for o, prob := range scores {
				expectedBias[o] += prob
			}
			for i, pred := range preds {
				for k, prm := range m.weights[pred] {
					expected[pred][k] += values[i] * scores[prm.outcome]
				}
			}
		}

		for o := range m.bias {
			m.bias[o] += step(idx.observedBias[o], expectedBias[o], idx.correction)
		}
		for pred := range m.weights {
			for k := range m.weights[pred] {
				m.weights[pred][k].weight += step(idx.observed[pred][k], expected[pred][k], idx.correction)
			}
		}

		if ll-prevLL < p.Threshold {
			break
		}
		prevLL = ll
	}

	return iter
}

// step is the GIS update for one parameter. An expectation that underflowed
// to zero leaves the parameter where it is.
func step(observed, expected, correction float64) float64 {
	if expected <= 0 || observed <= 0 {
		return 0
	}
	return math.Log(observed/expected) / correction
}

// eval writes the outcome distribution for a compiled context into probs
func (m *Model) eval(preds []int, values []float64, probs []float64) {
	copy(probs, m.bias)
	for i, pred := range preds {
		for _, prm := range m.weights[pred] {
			probs[prm.outcome] += values[i] * prm.weight
		}
	}
	softmax(probs)
}

func softmax(scores []float64) {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	sum := 0.0
	for i, s := range scores {
		scores[i] = math.Exp(s - maxScore)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}
}

// Categorize returns one probability per category, aligned with CategoryList.
// Tokens unknown to the model are ignored.
func (m *Model) Categorize(tokens []string) []float64 {
	counts := make(map[int]float64)
	var preds []int
	for _, tok := range tokens {
		p, ok := m.predicates[tok]
		if !ok {
			continue
		}
		if _, dup := counts[p]; !dup {
			preds = append(preds, p)
		}
		counts[p]++
	}

	values := make([]float64, len(preds))
	for i, p := range preds {
		values[i] = counts[p]
	}

	probs := make([]float64, len(m.outcomes))
	m.eval(preds, values, probs)
	return probs
}

// CategoryList returns the categories in model order
func (m *Model) CategoryList() []string {
	return append([]string(nil), m.outcomes...)
}

// NumCategories returns the number of categories
func (m *Model) NumCategories() int {
	return len(m.outcomes)
}

// BestCategory returns the category with the highest probability. Ties go
// to the category listed first.
func (m *Model) BestCategory(probs []float64) string {
	best := 0
	for i := 1; i < len(probs) && i < len(m.outcomes); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return m.outcomes[best]
}

// ID returns the unique identifier assigned at training time
func (m *Model) ID() string { return m.id }

// CreatedAt returns when the model was trained
func (m *Model) CreatedAt() time.Time { return m.createdAt }

// Params returns the training parameters
func (m *Model) Params() Params { return m.params }

// NumEvents returns the number of training events
func (m *Model) NumEvents() int { return m.events }

// IterationsRun returns the number of GIS passes performed
func (m *Model) IterationsRun() int { return m.iterations }

// NumPredicates returns the number of retained predicates
func (m *Model) NumPredicates() int { return len(m.names) }

// Feature is a predicate weight for one category
type Feature struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// TopFeatures returns the limit predicates with the largest weight for
// category, strongest first
func (m *Model) TopFeatures(category string, limit int) []Feature {
	o := -1
	for i, name := range m.outcomes {
		if name == category {
			o = i
			break
		}
	}
	if o < 0 {
		return nil
	}

	var features []Feature
	for pred, prms := range m.weights {
		for _, prm := range prms {
			if prm.outcome == o && prm.weight > 0 {
				features = append(features, Feature{Name: m.names[pred], Weight: prm.weight})
			}
		}
	}

	sort.Slice(features, func(i, j int) bool {
		if features[i].Weight != features[j].Weight {
			return features[i].Weight > features[j].Weight
		}
		return features[i].Name < features[j].Name
	})

	if limit > 0 && len(features) > limit {
		features = features[:limit]
	}
	return features
}
