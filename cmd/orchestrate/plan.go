package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudstep/orchestrate/internal/plan"
	"github.com/cloudstep/orchestrate/internal/target"
)

type planStepView struct {
	Name           string   `json:"name"`
	Action         string   `json:"action"`
	DependsOn      []string `json:"depends_on,omitempty"`
	When           string   `json:"when,omitempty"`
	MaxAttempts    int      `json:"max_attempts"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

type planView struct {
	Target   string         `json:"target"`
	Provider string         `json:"provider"`
	Steps    []planStepView `json:"steps"`
	Waves    [][]string     `json:"waves,omitempty"`
}

func newPlanCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "plan <target.yaml>",
		Short: "Validate a target file and print the execution plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := target.Load(args[0])
			if err != nil {
				return err
			}
			p, err := f.Plan()
			if err != nil {
				return err
			}

			if output != "text" {
				data, err := marshalOutput(newPlanView(f, p), output)
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Target: %s (provider %s)\n\n", p.Target, f.ProviderName())
			fmt.Printf("%-3s %-20s %-15s %-9s %-8s %s\n", "#", "STEP", "ACTION", "ATTEMPTS", "TIMEOUT", "DEPENDS ON")
			fmt.Println(strings.Repeat("-", 78))
			for i, s := range p.Steps {
				deps := strings.Join(s.DependsOn, ", ")
				if deps == "" {
					deps = "-"
				}
				fmt.Printf("%-3d %-20s %-15s %-9d %-8s %s\n",
					i+1, s.Name, s.Action, s.MaxAttempts, s.Timeout, deps)
			}
			if waves := p.Waves(); len(waves) > 1 {
				fmt.Println("\nParallelizable waves:")
				for i, wave := range waves {
					fmt.Printf("  %d. %s\n", i+1, strings.Join(wave, ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "text", "Output format: text, json, or yaml")
	return cmd
}

func newPlanView(f *target.File, p *plan.Plan) planView {
	v := planView{
		Target:   p.Target,
		Provider: f.ProviderName(),
		Steps:    make([]planStepView, 0, len(p.Steps)),
		Waves:    p.Waves(),
	}
	for _, s := range p.Steps {
		v.Steps = append(v.Steps, planStepView{
			Name:           s.Name,
			Action:         string(s.Action),
			DependsOn:      s.DependsOn,
			When:           s.When,
			MaxAttempts:    s.MaxAttempts,
			TimeoutSeconds: int(s.Timeout.Seconds()),
		})
	}
	return v
}
