package learning

import (
	"fmt"
	"io"

	"github.com/zpam/mailclass/pkg/maxent"
)

// ModelSummary describes a trained model
type ModelSummary struct {
	ID            string                      `json:"id" yaml:"id"`
	CreatedAt     string                      `json:"created_at" yaml:"created_at"`
	Categories    []string                    `json:"categories" yaml:"categories"`
	Events        int                         `json:"events" yaml:"events"`
	Predicates    int                         `json:"predicates" yaml:"predicates"`
	IterationsRun int                         `json:"iterations_run" yaml:"iterations_run"`
	Params        maxent.Params               `json:"params" yaml:"params"`
	TopFeatures   map[string][]maxent.Feature `json:"top_features" yaml:"top_features"`
}

// Summarize collects model metadata and the limit strongest features per category
func Summarize(m *maxent.Model, limit int) *ModelSummary {
	summary := &ModelSummary{
		ID:            m.ID(),
		CreatedAt:     m.CreatedAt().Format("2006-01-02 15:04:05"),
		Categories:    m.CategoryList(),
		Events:        m.NumEvents(),
		Predicates:    m.NumPredicates(),
		IterationsRun: m.IterationsRun(),
		Params:        m.Params(),
		TopFeatures:   make(map[string][]maxent.Feature),
	}
	for _, category := range summary.Categories {
		summary.TopFeatures[category] = m.TopFeatures(category, limit)
	}
	return summary
}

// PrintModelStats prints model statistics
func PrintModelStats(w io.Writer, m *maxent.Model, limit int) {
	info := Summarize(m, limit)

	fmt.Fprintf(w, "🧠 Maximum Entropy Model\n")
	fmt.Fprintf(w, "════════════════════════════════════════\n")
	fmt.Fprintf(w, "Model:\n")
	fmt.Fprintf(w, "  ID: %s\n", info.ID)
	fmt.Fprintf(w, "  Trained: %s\n", info.CreatedAt)
	fmt.Fprintf(w, "  Categories: %v\n", info.Categories)
	fmt.Fprintf(w, "  Training samples: %d\n", info.Events)
	fmt.Fprintf(w, "  Features: %d\n", info.Predicates)
	fmt.Fprintf(w, "  Iterations run: %d\n", info.IterationsRun)

	fmt.Fprintf(w, "\nConfiguration:\n")
	fmt.Fprintf(w, "  Iterations: %d\n", info.Params.Iterations)
	fmt.Fprintf(w, "  Cutoff: %d\n", info.Params.Cutoff)
	fmt.Fprintf(w, "  Threshold: %g\n", info.Params.Threshold)

	for _, category := range info.Categories {
		fmt.Fprintf(w, "\n📈 Top %s Features:\n", category)
		features := info.TopFeatures[category]
		if len(features) == 0 {
			fmt.Fprintf(w, "  (none)\n")
		}
		for i, f := range features {
			fmt.Fprintf(w, "  %2d. %-20s (%.4f)\n", i+1, f.Name, f.Weight)
		}
	}

	fmt.Fprintf(w, "\n")
}
