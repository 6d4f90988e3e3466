package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/compliance-viewer/internal/view"
)

var showTab string

var showCmd = &cobra.Command{
	Use:   "show <transaction-id>",
	Short: "Show one transaction",
	Long: `Authenticate, look a single transaction up by its id and print one tab
of its detail: overview, blockchain or raw.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tab := strings.ToLower(showTab)
		if !slices.Contains(view.Tabs, tab) {
			return fmt.Errorf("unknown tab %q: want one of %s", showTab, strings.Join(view.Tabs, ", "))
		}

		a, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.Sessions.GetToken(cmd.Context()); err != nil {
			return err
		}
		if err := a.Controller.OnSelectID(cmd.Context(), args[0]); err != nil {
			return err
		}

		selected := a.Controller.View().Selected
		log.Debug().Str("transaction_id", selected.TransactionID).Str("tab", tab).Msg("rendering transaction")
		return view.RenderDetail(cmd.OutOrStdout(), *selected, tab)
	},
}

func init() {
	showCmd.Flags().StringVar(&showTab, "tab", view.TabOverview, "detail tab (overview, blockchain, raw)")
}
