package maxent

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/gzip"
)

type artifact struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	Params     Params          `json:"params"`
	Events     int             `json:"events"`
	Iterations int             `json:"iterations_run"`
	Outcomes   []string        `json:"outcomes"`
	Bias       []float64       `json:"bias"`
	Predicates []predicateJSON `json:"predicates"`
}

type predicateJSON struct {
	Name     string    `json:"name"`
	Outcomes []int     `json:"outcomes"`
	Weights  []float64 `json:"weights"`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTo serializes the model as gzip-compressed JSON
func (m *Model) WriteTo(w io.Writer) (int64, error) {
	doc := artifact{
		ID:         m.id,
		CreatedAt:  m.createdAt,
		Params:     m.params,
		Events:     m.events,
		Iterations: m.iterations,
		Outcomes:   m.outcomes,
		Bias:       m.bias,
		Predicates: make([]predicateJSON, len(m.names)),
	}
	for i, name := range m.names {
		pred := predicateJSON{
			Name:     name,
			Outcomes: make([]int, len(m.weights[i])),
			Weights:  make([]float64, len(m.weights[i])),
		}
		for k, prm := range m.weights[i] {
			pred.Outcomes[k] = prm.outcome
			pred.Weights[k] = prm.weight
		}
		doc.Predicates[i] = pred
	}

	cw := &countingWriter{w: w}
	zw := gzip.NewWriter(cw)
	if err := json.NewEncoder(zw).Encode(&doc); err != nil {
		zw.Close()
		return cw.n, fmt.Errorf("failed to encode model: %w", err)
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("failed to flush model: %w", err)
	}
	return cw.n, nil
}

// ReadModel decodes a model written by WriteTo
func ReadModel(r io.Reader) (*Model, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	defer zr.Close()

	var doc artifact
	if err := json.NewDecoder(zr).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	if err := doc.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}

	m := &Model{
		id:         doc.ID,
		createdAt:  doc.CreatedAt,
		params:     doc.Params,
		events:     doc.Events,
		iterations: doc.Iterations,
		outcomes:   doc.Outcomes,
		bias:       doc.Bias,
		predicates: make(map[string]int, len(doc.Predicates)),
		names:      make([]string, len(doc.Predicates)),
		weights:    make([][]param, len(doc.Predicates)),
	}
	for i, pred := range doc.Predicates {
		m.names[i] = pred.Name
		m.predicates[pred.Name] = i
		m.weights[i] = make([]param, len(pred.Outcomes))
		for k, o := range pred.Outcomes {
			m.weights[i][k] = param{outcome: o, weight: pred.Weights[k]}
		}
	}
	return m, nil
}

func (a *artifact) validate() error {
	if len(a.Outcomes) == 0 {
		return fmt.Errorf("no outcomes")
	}
	if len(a.Bias) != len(a.Outcomes) {
		return fmt.Errorf("%d bias weights for %d outcomes", len(a.Bias), len(a.Outcomes))
	}
	seen := make(map[string]bool, len(a.Predicates))
	for _, pred := range a.Predicates {
		if seen[pred.Name] {
			return fmt.Errorf("duplicate predicate %q", pred.Name)
		}
		seen[pred.Name] = true
		if len(pred.Outcomes) != len(pred.Weights) {
			return fmt.Errorf("predicate %q: %d outcomes, %d weights", pred.Name, len(pred.Outcomes), len(pred.Weights))
		}
		for k, o := range pred.Outcomes {
			if o < 0 || o >= len(a.Outcomes) {
				return fmt.Errorf("predicate %q: outcome %d out of range", pred.Name, o)
			}
			if math.IsNaN(pred.Weights[k]) {
				return fmt.Errorf("predicate %q: NaN weight", pred.Name)
			}
		}
	}
	return nil
}
