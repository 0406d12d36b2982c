package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const starterTarget = `# Deployment target for orchestrate.
# Steps form a dependency graph; results are persisted per step, so a rerun
# skips anything already done.
target: deploy-app
provider: gcloud
defaults:
  max_attempts: 1
  timeout_seconds: 600
params:
  project: my-project
  region: europe-west1
steps:
  - name: create-cluster
    action: CreateCluster
    params: {cluster: app-cluster, project: "${project}", region: "${region}"}
  - name: bind-identity
    action: BindIdentity
    depends_on: [create-cluster]
    params: {service_account: app-sa, project: "${project}", namespace: default, ksa: app}
  - name: build-image
    action: BuildImage
    params: {image: "gcr.io/${project}/app:latest", context: .}
    max_attempts: 3
  - name: push-image
    action: PushImage
    depends_on: [build-image]
    params: {image: "gcr.io/${project}/app:latest"}
  - name: deploy
    action: Deploy
    depends_on: [push-image, bind-identity]
    params: {app: app, namespace: default, image: "gcr.io/${project}/app@${push-image.imageDigest}", port: "8080"}
  - name: wait-ready
    action: WaitReady
    depends_on: [deploy]
    params: {app: app, namespace: default}
    timeout_seconds: 900
`

func newInitCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a starter target file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			outFile := filepath.Join(dir, name)
			if _, err := os.Stat(outFile); err == nil {
				return fmt.Errorf("file %q already exists", outFile)
			}

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			if err := os.WriteFile(outFile, []byte(starterTarget), 0o644); err != nil {
				return fmt.Errorf("write file: %w", err)
			}

			fmt.Printf("Created %s\n", outFile)
			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Printf("  1. Edit %s: set your project, region, and image\n", outFile)
			fmt.Printf("  2. Run: orchestrate plan %s\n", outFile)
			fmt.Printf("  3. Run: orchestrate run %s --dry-run\n", outFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "target.yaml", "File name to create")
	return cmd
}
