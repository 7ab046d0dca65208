package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/adapters/sheets"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/config"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/workflow"
)

var sheetsJSON bool

var sheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "Inspect the configured spreadsheet",
}

var sheetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sheets of the spreadsheet",
	Args:  cobra.NoArgs,
	RunE:  runSheetsList,
}

var sheetsResolveCmd = &cobra.Command{
	Use:   "resolve <sheet> <rows or ids...>",
	Short: "Show the rows and external ids an input resolves to",
	Long: `Resolve row input against a sheet without queueing anything. For every
row the external id and record type read from the id columns are printed.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSheetsResolve,
}

func init() {
	sheetsListCmd.Flags().BoolVar(&sheetsJSON, "json", false, "print as JSON")
	sheetsCmd.AddCommand(sheetsListCmd, sheetsResolveCmd)
	rootCmd.AddCommand(sheetsCmd)
}

func newSheetsClient(ctx context.Context) (*config.Config, *sheets.Client, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Sheets.SpreadsheetID == "" {
		return nil, nil, fmt.Errorf("sheets.spreadsheet_id is not configured")
	}
	client, err := sheets.New(ctx, sheetsConfig(cfg), logging.NewNop())
	if err != nil {
		return nil, nil, err
	}
	return cfg, client, nil
}

func runSheetsList(cmd *cobra.Command, _ []string) error {
	_, client, err := newSheetsClient(cmd.Context())
	if err != nil {
		return err
	}
	list, err := client.ListSheets(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sheetsJSON {
		return outputJSON(out, list)
	}
	st := newStyles(noColor)
	for _, s := range list {
		fmt.Fprintf(out, "%s %s\n", st.muted.Render(fmt.Sprintf("%3d", s.Index)), s.Title)
	}
	return nil
}

func runSheetsResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, client, err := newSheetsClient(ctx)
	if err != nil {
		return err
	}

	sheet := args[0]
	reader := workflow.NewRowReader(client, cfg.Mapping.Mappings())
	rows, notFound, err := reader.Resolve(ctx, sheet, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	st := newStyles(noColor)
	out := cmd.OutOrStdout()
	for _, row := range rows {
		id, recordType, err := reader.ReadRow(ctx, sheet, row, "")
		switch {
		case err != nil:
			fmt.Fprintf(out, "%s %s\n", st.label.Render(fmt.Sprintf("row %d", row)), st.fail.Render(err.Error()))
		default:
			fmt.Fprintf(out, "%s %s %s\n", st.label.Render(fmt.Sprintf("row %d", row)), id, st.muted.Render(string(recordType)))
		}
	}
	if len(notFound) > 0 {
		fmt.Fprintln(out, st.warn.Render("not found: "+strings.Join(notFound, ", ")))
	}
	return nil
}
