package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/compliance-viewer/internal/view"
	"github.com/example/compliance-viewer/pkg/transaction"
)

var (
	listSearch string
	listType   string
	listSort   string
	listLimit  int
	listJSON   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List transactions",
	Long: `Load every transaction and print the ones matching the search term and
certificate type, ordered by insertion time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := transaction.ParseSortOrder(listSort)
		if err != nil {
			return err
		}
		if listLimit < 0 {
			return fmt.Errorf("limit must not be negative, got %d", listLimit)
		}

		a, _, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctrl := a.Controller
		ctrl.OnSearchChange(listSearch)
		ctrl.OnFilterChange(listType)
		ctrl.OnSortChange(order)

		spinner := view.NewSpinner(cmd.ErrOrStderr(), "loading transactions")
		unsubscribe := ctrl.Subscribe(spinner.Update)
		a.Start(cmd.Context())
		unsubscribe()
		spinner.Stop()

		v := ctrl.View()
		if v.Err != nil {
			return v.Err
		}
		if listLimit > 0 && len(v.Transactions) > listLimit {
			v.Transactions = v.Transactions[:listLimit]
		}

		out := cmd.OutOrStdout()
		if listJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(v.Transactions)
		}
		view.RenderList(out, v, time.Now())
		return nil
	},
}

func init() {
	listCmd.Flags().StringVarP(&listSearch, "search", "s", "", "free-text search term")
	listCmd.Flags().StringVarP(&listType, "type", "t", transaction.TypeAll, "certificate type (ALL, KYC, AUDIT)")
	listCmd.Flags().StringVar(&listSort, "sort", string(transaction.Newest), "sort order (newest, oldest)")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "maximum number of rows, 0 for all")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON instead of a table")
}
