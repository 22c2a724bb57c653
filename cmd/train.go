package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zpam/mailclass/pkg/dataset"
	"github.com/zpam/mailclass/pkg/learning"
	"github.com/zpam/mailclass/pkg/store"
)

var (
	trainSpamDir    string
	trainHamDir     string
	trainModelPath  string
	trainIterations int
	trainCutoff     int
	trainNoFallback bool
	trainTopWords   int
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the maximum entropy classifier",
	Long: `Train a maximum entropy model from a spam and a ham directory.

Every regular file in each directory is one training message. A share of the
messages is held out to measure accuracy, the model is then saved to the
configured store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		if trainSpamDir == "" {
			trainSpamDir = cfg.Training.SpamDir
		}
		if trainHamDir == "" {
			trainHamDir = cfg.Training.HamDir
		}
		if trainIterations > 0 {
			cfg.Training.Iterations = trainIterations
		}
		if trainCutoff > 0 {
			cfg.Training.Cutoff = trainCutoff
			cfg.Training.AutoCutoff = false
		}

		for _, dir := range []string{trainSpamDir, trainHamDir} {
			if !dataset.HasEnoughSamples(dir, cfg.Training.MinSamples) {
				return fmt.Errorf("%s needs at least %d messages", dir, cfg.Training.MinSamples)
			}
		}

		fmt.Printf("🧠 mailclass Training\n")
		fmt.Printf("═══════════════════════════════════════\n")
		fmt.Printf("📁 Spam directory: %s\n", trainSpamDir)
		fmt.Printf("📁 Ham directory: %s\n", trainHamDir)

		ds, err := dataset.NewLoader().LoadDirs(trainSpamDir, trainHamDir)
		if err != nil {
			return fmt.Errorf("failed to load training data: %w", err)
		}
		for _, category := range ds.Categories() {
			fmt.Printf("📧 %s messages: %d\n", category, len(ds[category]))
		}

		st, release, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open model store: %w", err)
		}
		defer release()

		engine := learning.NewEngine(learning.WithStore(st), learning.WithTrainer(newTrainer(cfg)))

		start := time.Now()
		progress, outcome := engine.TrainAsync(ds)
		for p := range progress {
			fmt.Printf("\r🔄 Training [%-20s] %3.0f%%", strings.Repeat("█", int(p*20)), p*100)
		}
		result := <-outcome
		fmt.Println()
		if result.Err != nil {
			return result.Err
		}

		fmt.Printf("\n✅ Training completed in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("🎯 Held-out accuracy: %.2f%%\n", result.Accuracy*100)

		location, err := saveTrained(engine, st, modelRef(cfg, trainModelPath), cfg.Store.Fallback && !trainNoFallback)
		if err != nil {
			return fmt.Errorf("failed to save model: %w", err)
		}
		fmt.Printf("💾 Model saved to: %s\n", location)

		if trainTopWords > 0 {
			fmt.Println()
			learning.PrintModelStats(cmd.OutOrStdout(), engine.Model(), trainTopWords)
		}
		return nil
	},
}

// saveTrained persists the engine's model. File stores walk the fallback
// locations when allowed.
func saveTrained(engine *learning.Engine, st store.Store, ref string, fallback bool) (string, error) {
	if fs, ok := st.(*store.FileStore); ok && fallback {
		return fs.SaveWithFallback(engine.Model(), ref)
	}
	return engine.Save(ref)
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVar(&trainSpamDir, "spam-dir", "", "Directory containing spam messages")
	trainCmd.Flags().StringVar(&trainHamDir, "ham-dir", "", "Directory containing ham messages")
	trainCmd.Flags().StringVarP(&trainModelPath, "model", "m", "", "Model path (file store) or ref (redis store)")
	trainCmd.Flags().IntVar(&trainIterations, "iterations", 0, "Override GIS iterations")
	trainCmd.Flags().IntVar(&trainCutoff, "cutoff", 0, "Override predicate cutoff")
	trainCmd.Flags().BoolVar(&trainNoFallback, "no-fallback", false, "Fail instead of trying fallback locations")
	trainCmd.Flags().IntVar(&trainTopWords, "top", 0, "Print the N strongest features after training")
}
