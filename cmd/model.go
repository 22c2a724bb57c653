package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zpam/mailclass/pkg/learning"
	"github.com/zpam/mailclass/pkg/store"
)

var (
	modelTop    int
	modelFormat string
	modelRefArg string
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect and publish trained models",
	Long:  `Show statistics of trained models, list stored models and publish model files to Redis.`,
}

var modelInfoCmd = &cobra.Command{
	Use:   "info [ref]",
	Short: "Show model statistics and strongest features",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		ref := ""
		if len(args) == 1 {
			ref = args[0]
		}
		engine, release, err := loadEngine(cfg, modelRef(cfg, ref))
		if err != nil {
			return err
		}
		defer release()

		out := cmd.OutOrStdout()
		switch modelFormat {
		case "text":
			learning.PrintModelStats(out, engine.Model(), modelTop)
			return nil
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(learning.Summarize(engine.Model(), modelTop))
		case "yaml":
			return yaml.NewEncoder(out).Encode(learning.Summarize(engine.Model(), modelTop))
		default:
			return fmt.Errorf("unknown format: %s", modelFormat)
		}
	},
}

var modelListCmd = &cobra.Command{
	Use:   "list [dir]",
	Short: "List stored models",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		if cfg.Store.Backend == "redis" {
			redisCfg, err := cfg.Store.Redis.ToStoreConfig()
			if err != nil {
				return err
			}
			rs, err := store.NewRedisStore(redisCfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			infos, err := rs.List()
			if err != nil {
				return err
			}
			fmt.Printf("📦 Models in Redis (%s):\n", redisCfg.KeyPrefix)
			for _, info := range infos {
				fmt.Printf("  %-40s %s  %8d bytes  %s\n",
					info.Ref, info.CreatedAt.Format("2006-01-02 15:04:05"), info.Size, info.ID)
			}
			if len(infos) == 0 {
				fmt.Printf("  (none)\n")
			}
			return nil
		}

		dir := filepath.Dir(cfg.Store.ModelPath)
		if len(args) == 1 {
			dir = args[0]
		}
		models, err := store.ListModels(dir)
		if err != nil {
			return err
		}
		fmt.Printf("📦 Models in %s:\n", dir)
		for _, path := range models {
			fmt.Printf("  %s\n", path)
		}
		if len(models) == 0 {
			fmt.Printf("  (none)\n")
		}
		return nil
	},
}

var modelPublishCmd = &cobra.Command{
	Use:   "publish <model-file>",
	Short: "Copy a model file into the Redis store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		m, err := store.NewFileStore().Load(args[0])
		if err != nil {
			return err
		}

		redisCfg, err := cfg.Store.Redis.ToStoreConfig()
		if err != nil {
			return err
		}
		rs, err := store.NewRedisStore(redisCfg)
		if err != nil {
			return err
		}
		defer rs.Close()

		ref, err := rs.Save(m, modelRefArg)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Published %s as %s\n", args[0], ref)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelInfoCmd)
	modelCmd.AddCommand(modelListCmd)
	modelCmd.AddCommand(modelPublishCmd)

	modelInfoCmd.Flags().IntVar(&modelTop, "top", 10, "Number of strongest features per category")
	modelInfoCmd.Flags().StringVar(&modelFormat, "format", "text", "Output format: text, json, yaml")
	modelPublishCmd.Flags().StringVar(&modelRefArg, "ref", "", "Redis ref (defaults to the model ID)")
}
