package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudstep/orchestrate/internal/state"
	"github.com/cloudstep/orchestrate/internal/target"
)

func newStatusCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status <target.yaml|target-name>",
		Short: "Show recorded step results for a target",
		Long:  "Status only reads the state store; it is safe while a run is in flight.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := resolveTargetName(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			store, err := state.Open(ctx, stateURL)
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := store.List(ctx, name)
			if err != nil {
				return err
			}

			if output != "text" {
				data, err := marshalOutput(results, output)
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(results) == 0 {
				fmt.Printf("No recorded state for target %q.\n", name)
				return nil
			}

			fmt.Printf("%-20s %-10s %-9s %-21s %s\n", "STEP", "STATUS", "ATTEMPTS", "FINISHED", "DETAIL")
			fmt.Println(strings.Repeat("-", 84))
			for _, sr := range results {
				finished := "-"
				if !sr.FinishedAt.IsZero() {
					finished = sr.FinishedAt.Local().Format(time.RFC3339)
				}
				detail := sr.Error
				if detail == "" {
					detail = "-"
				}
				fmt.Printf("%-20s %-10s %-9d %-21s %s\n",
					sr.Step, sr.Status, sr.Attempts, finished, truncate(detail, 40))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "text", "Output format: text, json, or yaml")
	return cmd
}

// resolveTargetName accepts either a target file path or a bare target name.
func resolveTargetName(arg string) (string, error) {
	looksLikeFile := strings.HasSuffix(arg, ".yaml") || strings.HasSuffix(arg, ".yml")
	if !looksLikeFile {
		if _, err := os.Stat(arg); err == nil {
			looksLikeFile = true
		}
	}
	if !looksLikeFile {
		return arg, nil
	}
	f, err := target.Load(arg)
	if err != nil {
		return "", err
	}
	return f.Target, nil
}
