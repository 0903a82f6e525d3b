package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/convergd/internal/hook"
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Inspect configured hook strategies",
}

var hooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured strategies and their hooks",
	RunE:  runHooksList,
}

var hooksValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the hook configuration",
	RunE:  runHooksValidate,
}

func init() {
	hooksCmd.AddCommand(hooksListCmd)
	hooksCmd.AddCommand(hooksValidateCmd)
}

func runHooksList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, s := range cfg.Workflow.Strategies {
		fmt.Fprintf(out, "%s (timeout: %s, max parallel: %d)\n",
			s.Name, s.GlobalTimeout, s.MaxParallel)
		for _, h := range s.Hooks {
			fmt.Fprintf(out, "  %-28s %-12s %s\n",
				h.Name, hook.Categorize(h.Name), strings.Join(h.Command, " "))
		}
	}
	return nil
}

func runHooksValidate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	hooks := 0
	for _, s := range cfg.Workflow.Strategies {
		hooks += len(s.Hooks)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %d strategies, %d hooks\n",
		len(cfg.Workflow.Strategies), hooks)
	return nil
}
