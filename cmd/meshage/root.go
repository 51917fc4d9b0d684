package main

import (
	"fmt"
	"net"
	"os"

	"github.com/shahidanowar/Meshage/internal/config"
	"github.com/shahidanowar/Meshage/internal/logger"
	"github.com/shahidanowar/Meshage/internal/store"
	"github.com/spf13/cobra"
)

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:   "meshage",
	Short: "Meshage: chat and friends over an infrastructure-free local mesh",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := logger.Init(cfg.LogFile, cfg.LogLevel); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&cfg.Port, "port", "p", cfg.Port, "Mesh port (UDP heartbeat and TCP links)")
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding the database")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file; empty logs to stderr")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DBPath(), err)
	}
	return st, nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
