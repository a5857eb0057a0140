package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the schema catalog and helper functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			adapter, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer adapter.Close()

			if err := adapter.PerformInitialization(ctx, nil); err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "initialized")
			return nil
		},
	}
}

// NewClassesCommand creates the classes command.
func NewClassesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "Print every registered class as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			adapter, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer adapter.Close()

			classes, err := adapter.GetAllClasses(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(classes)
		},
	}
}
