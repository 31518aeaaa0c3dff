package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaywantadh/ThreadByte/config"
	"github.com/jaywantadh/ThreadByte/pkg/env"
	"github.com/jaywantadh/ThreadByte/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     *config.AppConfig
	cfgDir  string
	envFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "threadbyte",
	Short: "ThreadByte - store files as chunked attachments in Discord threads",
	Long: `ThreadByte stores each file in its own Discord thread. The file is cut
into chunks of at most 18 MiB, base64-encoded and posted as attachments
named {file}_{index}.txt. Downloads page through the thread, order the
chunks by index and reassemble the file.

Usage:
  Upload a file:   threadbyte upload --channel 123456789 --file ./movie.mkv
  Download a file: threadbyte download --name movie.mkv --dst ./movie.mkv
  Run the API:     threadbyte serve`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		env.LoadEnv(envFile)

		c, err := config.LoadConfig(cfgDir)
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		logging.InitLogger(cfg.Debug)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "directory holding config.yaml (default is the working directory)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", env.GetEnv("THREADBYTE_ENV_FILE", ".env"), "dotenv file to load")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
