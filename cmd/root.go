package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zpam/mailclass/pkg/config"
	"github.com/zpam/mailclass/pkg/learning"
	"github.com/zpam/mailclass/pkg/logging"
	"github.com/zpam/mailclass/pkg/store"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "mailclass",
	Short: "mailclass - maximum entropy email classifier",
	Long: `mailclass trains a maximum entropy text classifier on labeled spam and
ham corpora, classifies messages with it, and can serve the trained model to
an MTA as a milter.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mailclass - maximum entropy email classifier")
		fmt.Println("Use 'mailclass --help' for usage information")
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging level (debug, info, warn, error)")
}

// setup loads the configuration and installs the logger. The returned closer
// must be closed when the command ends.
func setup() (*config.Config, io.Closer, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, closer, nil
}

// openStore returns the configured model store and a function releasing it
func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		redisCfg, err := cfg.Store.Redis.ToStoreConfig()
		if err != nil {
			return nil, nil, err
		}
		rs, err := store.NewRedisStore(redisCfg)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	default:
		fs := store.NewFileStore()
		fs.DefaultFilename = cfg.Store.DefaultFilename
		return fs, func() {}, nil
	}
}

// modelRef picks the reference to load: an explicit flag, else the configured
// path or Redis ref
func modelRef(cfg *config.Config, flag string) string {
	if flag != "" {
		return flag
	}
	if cfg.Store.Backend == "redis" {
		return cfg.Store.Redis.ModelRef
	}
	return cfg.Store.ModelPath
}

// newTrainer builds a trainer from the training configuration
func newTrainer(cfg *config.Config) *learning.Trainer {
	trainer := learning.NewTrainer()
	trainer.Params = cfg.Training.Params()
	trainer.TrainRatio = cfg.Training.TrainRatio
	trainer.SmallCorpusSize = cfg.Training.SmallCorpusSize
	trainer.AutoCutoff = cfg.Training.AutoCutoff
	return trainer
}

// loadEngine opens the configured store and loads the model under ref
func loadEngine(cfg *config.Config, ref string) (*learning.Engine, func(), error) {
	st, release, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open model store: %w", err)
	}

	engine := learning.NewEngine(learning.WithStore(st), learning.WithTrainer(newTrainer(cfg)))
	if err := engine.Load(ref); err != nil {
		release()
		return nil, nil, err
	}
	return engine, release, nil
}
