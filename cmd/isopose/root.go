package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/isopose/isopose/internal/config"
	"github.com/isopose/isopose/internal/logging"
)

// configKeyAnnotation marks a flag as an override for a config key.
const configKeyAnnotation = "isopose/config-key"

var (
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "isopose",
	Short: "Orientation estimation and upright-control inference",
	Long: `isopose runs an image-to-quaternion pose model and a reinforcement-learning
upright-control policy, both exported as ONNX, behind a small JSON API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("config")
		v = config.NewViper()
		if err := bindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load(v, file)
		if err != nil {
			return err
		}
		logger, err = logging.NewWithFormat(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text, json)")
	configFlag(rootCmd.PersistentFlags(), "log-level", "log.level")
	configFlag(rootCmd.PersistentFlags(), "log-format", "log.format")
}

// configFlag ties a flag to a config key. The flag only overrides the
// merged configuration when it is set explicitly.
func configFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[configKeyAnnotation]
		if !ok || len(keys) == 0 || err != nil {
			return
		}
		err = v.BindPFlag(keys[0], f)
	})
	return err
}
