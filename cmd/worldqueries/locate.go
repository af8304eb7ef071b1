package main

import (
	"fmt"
	"os"

	"github.com/StuartCAlexander88/World-Queries/internal/config"
	"github.com/StuartCAlexander88/World-Queries/internal/launcher"

	"github.com/spf13/cobra"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Print the directory the compose stack would be launched from",
	Long: `Locate walks up from the working directory looking for docker-compose.yml
or docker-compose.yaml and prints the first directory that has one. When none
is found the working directory itself is printed.`,
	Args: cobra.NoArgs,
	// Needs no credentials, so it skips the root's validated config load.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogger(logLevel)
		return nil
	},
	RunE: runLocate,
}

func runLocate(cmd *cobra.Command, args []string) error {
	c, err := config.Read(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), launcher.NewLocator(c.Launch.Descriptors).Locate(wd))
	return nil
}
