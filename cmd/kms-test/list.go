package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list connected outputs",
	Long:  "list connected outputs with their connector, encoder, controller and mode",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(listOutputs)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func listOutputs(log *slog.Logger) error {
	m, err := open(log)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCONNECTOR\tENCODER\tCRTC\tMODE")
	for _, o := range m.Enumerate() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", o.Name, o.ConnectorID, o.EncoderID, o.CrtcID, o.Mode)
	}
	return w.Flush()
}
