package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudstep/orchestrate/internal/state"
)

func newPurgeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge <target-name>",
		Short: "Remove all recorded state for a target",
		Long: `Purge deletes every recorded step result for the target, so the next
run executes all steps from scratch. Deployed resources are not touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := resolveTargetName(args[0])
			if err != nil {
				return err
			}

			if !yes {
				fmt.Printf("This removes all recorded step results for target %q.\n", name)
				fmt.Print("Are you sure? (yes/no): ")
				var response string
				_, _ = fmt.Scanln(&response)
				if response != "yes" {
					fmt.Println("Purge cancelled.")
					return nil
				}
			}

			ctx := context.Background()
			store, err := state.Open(ctx, stateURL)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Purge(ctx, name); err != nil {
				return err
			}
			fmt.Printf("State for target %q removed.\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Skip confirmation prompt")
	return cmd
}
