package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbus "github.com/edgeo-scada/modbus-slave"
)

var (
	mode       string
	port       int
	serialPort string
	baudRate   int
	seedFile   string
	traceFlag  bool
	maxConns   int
	skipInit   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the slave on the selected transport",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&mode, "mode", "m", "tcp", "Transport: tcp, rtu")
	serveCmd.Flags().IntVarP(&port, "port", "p", modbus.DefaultTCPPort, "Modbus TCP port")
	serveCmd.Flags().StringVarP(&serialPort, "serial", "s", "/dev/ttyUSB0", "Serial port for RTU mode")
	serveCmd.Flags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate for RTU mode")
	serveCmd.Flags().StringVar(&seedFile, "seed", "", "Seed file (json, csv or tsv)")
	serveCmd.Flags().BoolVar(&traceFlag, "trace", false, "Print every frame to stderr")
	serveCmd.Flags().IntVar(&maxConns, "max-conns", 100, "Maximum concurrent TCP connections")
	serveCmd.Flags().BoolVar(&skipInit, "no-init", false, "Skip the default data initialization")

	viper.BindPFlag("mode", serveCmd.Flags().Lookup("mode"))
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("serial", serveCmd.Flags().Lookup("serial"))
	viper.BindPFlag("baud", serveCmd.Flags().Lookup("baud"))
	viper.BindPFlag("seed", serveCmd.Flags().Lookup("seed"))
	viper.BindPFlag("max-conns", serveCmd.Flags().Lookup("max-conns"))
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := []modbus.ServerOption{
		modbus.WithLogger(logger),
		modbus.WithMaxConnections(viper.GetInt("max-conns")),
	}
	if traceFlag {
		opts = append(opts, modbus.WithTraceSink(func(line string) {
			fmt.Fprintln(os.Stderr, line)
		}))
	}

	srv := modbus.NewServer(opts...)
	if !skipInit {
		srv.InitializeData()
	}

	if seed := viper.GetString("seed"); seed != "" {
		items, err := modbus.LoadSeedFile(seed)
		if err != nil {
			return err
		}
		if err := srv.ApplySeed(items); err != nil {
			return err
		}
	}

	switch viper.GetString("mode") {
	case "tcp":
		if err := srv.StartTCP(viper.GetInt("port")); err != nil {
			return err
		}
	case "rtu":
		if err := srv.StartRTU(viper.GetString("serial"), viper.GetInt("baud")); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %q (want tcp or rtu)", viper.GetString("mode"))
	}

	fmt.Println(srv.Status())
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	srv.Stop()
	fmt.Printf("Served %d data requests (last function: %s)\n",
		srv.RequestCount(), srv.LastFunctionCode())
	return nil
}
