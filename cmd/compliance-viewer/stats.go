package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/example/compliance-viewer/internal/view"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show transaction counts per type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		a.Start(cmd.Context())
		v := a.Controller.View()
		if v.Err != nil {
			return v.Err
		}

		out := cmd.OutOrStdout()
		if statsJSON {
			return json.NewEncoder(out).Encode(v.Stats)
		}
		view.RenderStats(out, v)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print JSON instead of a table")
}
