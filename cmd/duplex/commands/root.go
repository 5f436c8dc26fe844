package commands

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"duplex/internal/config"
)

var (
	cfgPath string
	verbose bool

	cfg config.Config
	log *logrus.Logger
)

func Execute() error {
	root := &cobra.Command{
		Use:   "duplex",
		Short: "Dual-channel encrypted session tool",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Existing environment variables win over .env entries.
			_ = godotenv.Load()

			cfg = config.Default()
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			var err error
			cfg, err = cfg.FromEnv()
			if err != nil {
				return err
			}

			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			if verbose {
				level = logrus.DebugLevel
			}
			log = logrus.New()
			log.SetLevel(level)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(keygenCmd(), demoCmd(), benchCmd())
	return root.Execute()
}
