package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ytnobody/riskcrew/internal/config"
	"github.com/ytnobody/riskcrew/prompts"
)

func newInitCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config template and the default prompt files",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": "skip"},
		RunE: func(*cobra.Command, []string) error {
			return a.runInit(dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to initialise")
	return cmd
}

// runInit creates riskcrew.toml and prompts/ in dir. Existing files are left
// untouched so that a second init never loses local edits.
func (a *app) runInit(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, defaultConfigFile)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(config.Template), 0644); err != nil {
			return fmt.Errorf("create config: %w", err)
		}
		fmt.Fprintf(a.stdout, "Config: %s\n", configPath)
	} else {
		fmt.Fprintf(a.stdout, "Config: %s (kept)\n", configPath)
	}

	promptsDir := filepath.Join(dir, "prompts")
	if err := prompts.WriteDefaults(promptsDir); err != nil {
		return fmt.Errorf("create default prompts: %w", err)
	}
	fmt.Fprintf(a.stdout, "Prompts: %s\n", promptsDir)
	return nil
}
