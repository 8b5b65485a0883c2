package commands

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/alecthomas/chroma/quick"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	qsconfig "github.com/qstransfer/qs/cmd/qs/config"
)

// Config builds the `qs config` command tree, in the teacher's
// path/view/edit/reset shape (spec.md §2.3 expansion).
func Config() *cobra.Command {
	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Output the path of the config file",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(viper.ConfigFileUsed())
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view",
		Short: "View the configured options",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := viper.ConfigFileUsed()
			raw, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("config file (%s) could not be read: %w", configPath, err)
			}
			if err := quick.Highlight(os.Stdout, string(raw), "yaml", "terminal256", "onedark"); err != nil {
				fmt.Println(string(raw))
			}
			return nil
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := viper.ConfigFileUsed()
			editor, _, _ := strings.Cut(os.Getenv("EDITOR"), " ")
			if len(editor) == 0 {
				return fmt.Errorf("could not find default editor (is $EDITOR set?); open %s manually", configPath)
			}
			editorCmd := exec.Command(editor, configPath)
			editorCmd.Stdin = os.Stdin
			editorCmd.Stdout = os.Stdout
			editorCmd.Stderr = os.Stderr
			if err := editorCmd.Run(); err != nil {
				return fmt.Errorf("opening %s in %s: %w", configPath, editor, err)
			}
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset to the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := viper.ConfigFileUsed()
			if err := os.WriteFile(configPath, qsconfig.GetDefault().Yaml(), 0o644); err != nil {
				return fmt.Errorf("config file (%s) could not be written: %w", configPath, err)
			}
			return nil
		},
	}

	configCmd := &cobra.Command{
		Use:       "config",
		Short:     "View and configure qs options",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{pathCmd.Name(), viewCmd.Name(), editCmd.Name(), resetCmd.Name()},
		Run:       func(cmd *cobra.Command, args []string) {},
	}
	configCmd.AddCommand(pathCmd, viewCmd, editCmd, resetCmd)
	return configCmd
}
