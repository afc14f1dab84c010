package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// Global flags
	verbose bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "modbus-slave",
	Short: "A Modbus slave server with TCP and RTU transports",
	Long: `modbus-slave serves the Modbus application protocol over TCP or a serial
line (RTU). It holds an in-memory process image (coils, discrete inputs,
holding and input registers), a file-record store (FC 20/21) and a flat
file-address store (FC 203/204).

Examples:
  # Serve Modbus TCP on the default port
  modbus-slave serve --mode tcp --port 502

  # Serve Modbus RTU on a serial port
  modbus-slave serve --mode rtu --serial /dev/ttyUSB0 --baud 9600

  # Seed the process image from a file before serving
  modbus-slave serve --mode tcp --port 1502 --seed sensors.csv

  # Trace every frame on stderr
  modbus-slave serve --mode tcp --port 1502 --trace`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logger
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.modbus-slave.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".modbus-slave")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MODBUS_SLAVE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
