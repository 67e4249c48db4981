package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/afterdata/bodacc/pkg/bodacc"
	"github.com/afterdata/bodacc/pkg/config"
	"github.com/afterdata/bodacc/pkg/crypto"
	"github.com/afterdata/bodacc/pkg/filter"
	"github.com/afterdata/bodacc/pkg/logging"
	"github.com/afterdata/bodacc/pkg/pipeline"
	"github.com/afterdata/bodacc/pkg/siren"
)

var (
	configFlag  string
	keyFlag     string
	verboseFlag bool
)

func main() {
	// A local .env can carry BODACC_CONFIG / BODACC_KEY.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "bodacc",
		Short: "BODACC monitoring pipeline",
		Long: `bodacc watches the French BODACC bulletin for legal announcements
concerning a portfolio of companies identified by SIREN. The pipeline has
three stages: SIREN registry extraction, daily announcement download, and
filtering against the registry.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(verboseFlag)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&keyFlag, "key", "", "decryption key for ENC(...) configuration values")
	rootCmd.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sirenCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(filterCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(encryptCmd())

	if err := rootCmd.Execute(); err != nil {
		var stageErr *pipeline.StageError
		if stderrors.As(err, &stageErr) && stageErr.ExitCode != 0 {
			os.Exit(stageErr.ExitCode)
		}
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var manifestFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the whole pipeline, stage by stage",
		Long: `Runs the pipeline stages strictly in order, each as a child process
inheriting this terminal's output. The first stage exiting non-zero aborts
the run; later stages are not invoked and earlier outputs are left as-is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p *pipeline.Pipeline
			if manifestFile != "" {
				loaded, err := pipeline.LoadManifest(manifestFile)
				if err != nil {
					return err
				}
				p = loaded
			} else {
				exe, err := os.Executable()
				if err != nil {
					return errors.Wrap(err, "locate own executable")
				}
				p = pipeline.Default(exe)
			}

			if keyFlag != "" {
				// Child stages pick the key up from the environment.
				if err := os.Setenv(config.EnvKey, keyFlag); err != nil {
					return errors.Wrap(err, "propagate key")
				}
			}

			runner := &pipeline.Runner{ConfigPath: configFlag}
			if cfg, err := loadConfigIfAvailable(); err == nil {
				if logDir, err := cfg.LogDir(); err == nil {
					runner.ReportDir = logDir
				}
			}

			result, err := runner.Run(context.Background(), p)
			if err != nil {
				return err
			}
			log.WithField("run", result.RunID).Info("pipeline complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "file", "f", "", "pipeline manifest overriding the default stages")

	return cmd
}

func sirenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "siren",
		Short: "Extract the SIREN registry from the master-data store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("siren_extract")
			if err != nil {
				return err
			}

			log.Info("===== SIREN registry extraction starting =====")

			db, err := siren.Open(cfg.MasterData)
			if err != nil {
				return err
			}
			defer db.Close()

			path, err := cfg.SirenCSVPath()
			if err != nil {
				return err
			}

			if _, err := siren.Export(cmd.Context(), db, path); err != nil {
				return err
			}

			log.Info("===== SIREN registry extraction finished =====")
			return nil
		},
	}
}

func fetchCmd() *cobra.Command {
	var startDate, endDate string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download daily BODACC announcements",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("get_bodacc_by_day")
			if err != nil {
				return err
			}

			log.Info("===== BODACC download starting =====")

			start, end, err := bodacc.ResolveRange(startDate, endDate, cfg.General.DefaultDaysDepth, time.Now())
			if err != nil {
				return err
			}

			client, err := bodacc.NewClient(cfg)
			if err != nil {
				return err
			}

			tmpDir, err := cfg.TmpDir()
			if err != nil {
				return err
			}
			dailyDir, err := cfg.DailyOutputDir()
			if err != nil {
				return err
			}

			fetcher := &bodacc.Fetcher{Client: client, TmpDir: tmpDir, DailyDir: dailyDir}
			records, err := fetcher.Run(cmd.Context(), start, end)
			if err != nil {
				return err
			}

			if err := bodacc.WriteConsolidated(records, tmpDir, cfg.Files); err != nil {
				return err
			}

			log.Info("===== BODACC download finished =====")
			return nil
		},
	}

	cmd.Flags().StringVar(&startDate, "start-date", "", "first day to fetch (YYYY-MM-DD), default: yesterday minus default_days_depth")
	cmd.Flags().StringVar(&endDate, "end-date", "", "last day to fetch (YYYY-MM-DD), default: yesterday")

	return cmd
}

func filterCmd() *cobra.Command {
	var inputs []string

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Filter daily announcements against the SIREN registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("filter_bodacc_by_day")
			if err != nil {
				return err
			}

			log.Info("===== BODACC filtering starting =====")

			registryPath, err := cfg.SirenCSVPath()
			if err != nil {
				return err
			}
			registry, err := siren.LoadRegistry(registryPath)
			if err != nil {
				return err
			}

			dailyDir, err := cfg.DailyOutputDir()
			if err != nil {
				return err
			}
			filteredDir, err := cfg.FilteredOutputDir()
			if err != nil {
				return err
			}

			files := filter.DiscoverInputs(dailyDir, inputs)
			f := &filter.Filter{
				Registry:  registry,
				Keywords:  cfg.Keywords.Topage,
				TargetDir: filteredDir,
			}
			if _, err := f.Run(files); err != nil {
				return err
			}

			log.Info("===== BODACC filtering finished =====")
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&inputs, "input", nil, "daily NDJSON file to filter (repeatable, default: discover in the daily output directory)")

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [pipeline.yaml]",
		Short: "Validate a pipeline manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipeline.LoadManifest(args[0])
			if err != nil {
				return err
			}
			ordered, err := p.ExecutionOrder()
			if err != nil {
				return err
			}
			fmt.Printf("Pipeline manifest is valid (%d stages):\n", len(ordered))
			for i, stage := range ordered {
				fmt.Printf("  %d. %s\n", i+1, stage.Name)
			}
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a configuration encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [config.yaml]",
		Short: "Encrypt sensitive values of a configuration file in place",
		Long: `Seals every configuration value whose key name contains one of the
substrings listed under encryption.keywords into an ENC(...) envelope.
The file is rewritten in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := keyFlag
			if key == "" {
				key = os.Getenv(config.EnvKey)
			}
			if key == "" {
				return errors.Errorf("an encryption key is required: pass --key or set %s", config.EnvKey)
			}

			sealed, err := crypto.EncryptConfigFile(key, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Encrypted %d values in %s\n", sealed, args[0])
			return nil
		},
	}
}

// loadConfig resolves and loads the configuration, then attaches the
// per-run log file for the given stage name.
func loadConfig(logName string) (*config.Config, error) {
	path, err := config.Resolve(configFlag)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, keyFlag)
	if err != nil {
		return nil, err
	}

	if logDir, err := cfg.LogDir(); err == nil {
		if _, err := logging.AttachFile(logDir, logName); err != nil {
			log.WithError(err).Warn("file logging unavailable")
		}
	}
	return cfg, nil
}

// loadConfigIfAvailable is the tolerant variant used by the runner, which
// must work with no configuration at all.
func loadConfigIfAvailable() (*config.Config, error) {
	path, err := config.Resolve(configFlag)
	if err != nil {
		return nil, err
	}
	return config.Load(path, keyFlag)
}
