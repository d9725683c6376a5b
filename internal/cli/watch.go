package cli

import (
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/app"
	"github.com/spf13/cobra"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [path...]",
		Short: "Watch directories and query the index interactively",
		Long: `Watch the given directories and open an interactive prompt.

At the menu type "search" to enter query mode, "menu" to show the commands
again or "quit" to exit. In query mode each word typed is looked up and the
files containing it are printed one per line; "menu" returns to the menu.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd, args)
			if err != nil {
				return err
			}
			if err := requireRoots(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, newRegistry())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(ctx); err != nil {
				return err
			}
			if err := a.WaitSynced(ctx); err != nil {
				return nil
			}
			return NewPrompt(a.Search, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
		},
	}
}
