// Package main is the entry point for the orchestrate CLI tool.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cloudstep/orchestrate/internal/env"
	"github.com/cloudstep/orchestrate/internal/state"
	"github.com/cloudstep/orchestrate/internal/telemetry"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var (
	stateURL  string
	logFormat string
	logLevel  string
	logger    *slog.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestrate",
		Short: "Declarative deployment orchestrator",
		Long: `Orchestrate executes declarative deployment targets: provisioning
clusters, binding workload identities, building and pushing images, and
rolling out applications. Steps form a dependency graph, every result is
persisted, and repeated runs skip work that is already done.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if stateURL == "" {
				stateURL = env.String("ORCHESTRATE_STATE", state.DefaultURL)
			}
			var err error
			logger, err = telemetry.NewLogger(os.Stderr, logFormat, logLevel)
			return err
		},
	}

	root.PersistentFlags().StringVar(&stateURL, "state", "",
		"State store URL: file:<dir>, memory:, etcd:<endpoints>, postgres:<dsn> (default $ORCHESTRATE_STATE or "+state.DefaultURL+")")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json, or tint")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, or error")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newPurgeCmd())

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
