package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fixrecall/configs"
	fixerrors "github.com/Aman-CERP/fixrecall/internal/errors"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented .fixrecall.yaml",
		Long: `Write .fixrecall.yaml into --config-dir with every setting at its default
and comments explaining each one. An existing file is kept unless --force
is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing .fixrecall.yaml")
	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	out := newWriter(cmd, false)
	path := filepath.Join(configDir, ".fixrecall.yaml")

	if _, err := os.Stat(path); err == nil && !force {
		out.Statusf("ℹ️ ", "%s already exists (use --force to overwrite)", path)
		return nil
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fixerrors.ConfigError("failed to create config directory", err)
	}
	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fixerrors.ConfigError(fmt.Sprintf("failed to write %s", path), err)
	}

	out.Statusf("📝", "Created %s", path)
	out.Status("", "Next: add your incident sources, then run 'fixrecall setup' and 'fixrecall reindex'")
	return nil
}
