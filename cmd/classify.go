package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/zpam/mailclass/pkg/email"
	"github.com/zpam/mailclass/pkg/learning"
	"github.com/zpam/mailclass/pkg/profiler"
)

var (
	classifyModel string
	classifyText  string
	classifyJSON  bool
	classifyProf  bool
)

// classification is the per-input output record
type classification struct {
	Input         string             `json:"input"`
	Category      string             `json:"category"`
	Probability   float64            `json:"probability"`
	Probabilities map[string]float64 `json:"probabilities"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify [files...]",
	Short: "Classify messages with a trained model",
	Long: `Classify email files, stdin ("-") or a literal --text with a trained model.

Files that start with a header block are parsed as messages and reduced to
subject and decoded body text before classification.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if classifyText == "" && len(args) == 0 {
			return fmt.Errorf("provide files to classify or --text")
		}

		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		engine, release, err := loadEngine(cfg, modelRef(cfg, classifyModel))
		if err != nil {
			return err
		}
		defer release()

		parser := email.NewParser()
		prof := profiler.New()
		var results []classification

		if classifyText != "" {
			c, err := classifyOne(engine, prof, "--text", classifyText)
			if err != nil {
				return err
			}
			results = append(results, c)
		}

		for _, input := range args {
			data, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			var text string
			prof.Time("parse", func() error {
				text = parser.ExtractText(data)
				return nil
			})
			c, err := classifyOne(engine, prof, input, text)
			if err != nil {
				return err
			}
			results = append(results, c)
		}

		out := cmd.OutOrStdout()
		if classifyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		for _, c := range results {
			printClassification(out, c)
		}
		if classifyProf {
			fmt.Fprintln(out)
			prof.Report(out)
		}
		return nil
	},
}

func classifyOne(engine *learning.Engine, prof *profiler.Profiler, input, text string) (classification, error) {
	var result learning.Result
	err := prof.Time("classify", func() error {
		var err error
		result, err = engine.Classify(text)
		return err
	})
	if err != nil {
		return classification{}, fmt.Errorf("failed to classify %s: %w", input, err)
	}
	category, prob := result.Best()
	return classification{
		Input:         input,
		Category:      category,
		Probability:   prob,
		Probabilities: result,
	}, nil
}

func readInput(cmd *cobra.Command, input string) ([]byte, error) {
	if input == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", input, err)
	}
	return data, nil
}

func printClassification(w io.Writer, c classification) {
	icon := "✅"
	if c.Category == "spam" {
		icon = "🚫"
	}
	fmt.Fprintf(w, "%s %s: %s (%.2f%%)\n", icon, c.Input, c.Category, c.Probability*100)

	categories := make([]string, 0, len(c.Probabilities))
	for category := range c.Probabilities {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Fprintf(w, "   %-10s %.4f\n", category, c.Probabilities[category])
	}
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().StringVarP(&classifyModel, "model", "m", "", "Model path (file store) or ref (redis store)")
	classifyCmd.Flags().StringVarP(&classifyText, "text", "t", "", "Classify this text instead of a file")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Print results as JSON")
	classifyCmd.Flags().BoolVar(&classifyProf, "profile", false, "Print parse and classify timings")
}
