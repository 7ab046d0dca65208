package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/control"
)

var enqueueFromStdin bool

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [rows or ids...]",
	Short: "Queue rows for processing",
	Long: `Queue rows by number, range or external id, for example:

  tickettrail enqueue 12 15-18 "150 to 160" FOB12345

External ids are looked up in the id columns of the current sheet.`,
	RunE: runEnqueue,
}

var startCmd = &cobra.Command{
	Use:   "start [sheet]",
	Short: "Activate the workflow on a sheet",
	Long:  "Activate the workflow. The sheet name is matched loosely against the spreadsheet's sheets; without it the last sheet is reused.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(cmd, control.ActionStart, strings.Join(args, " "))
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause after the row in flight",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return simpleCommand(cmd, control.ActionPause, "")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused workflow",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return simpleCommand(cmd, control.ActionResume, "")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the workflow and clear the queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return simpleCommand(cmd, control.ActionStop, "")
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the queue without stopping",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return simpleCommand(cmd, control.ActionClear, "")
	},
}

var setSheetCmd = &cobra.Command{
	Use:   "set-sheet <sheet>",
	Short: "Select the sheet rows are read from",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(cmd, control.ActionSetSheet, strings.Join(args, " "))
	},
}

var setTypeCmd = &cobra.Command{
	Use:   "set-type <support|installation|relocation|auto>",
	Short: "Force the record type of queued rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return simpleCommand(cmd, control.ActionSetType, args[0])
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [n]",
	Short: "Show recent log lines of the runner",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogs,
}

func init() {
	enqueueCmd.Flags().BoolVar(&enqueueFromStdin, "stdin", false, "read row input from stdin")

	rootCmd.AddCommand(enqueueCmd, startCmd, pauseCmd, resumeCmd, stopCmd,
		clearCmd, setSheetCmd, setTypeCmd, logsCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	payload := strings.Join(args, " ")
	if enqueueFromStdin {
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		payload = strings.TrimSpace(payload + "\n" + string(data))
	}
	if payload == "" {
		return fmt.Errorf("no rows given")
	}

	res, err := runCommand(cmd.Context(), control.ActionProcessRows, payload)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	if len(res.NotFound) > 0 {
		st := newStyles(noColor)
		fmt.Fprintln(cmd.OutOrStdout(), st.warn.Render("not found: "+strings.Join(res.NotFound, ", ")))
	}
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	payload := ""
	if len(args) == 1 {
		payload = args[0]
	}
	res, err := runCommand(cmd.Context(), control.ActionLogs, payload)
	if err != nil {
		return err
	}
	st := newStyles(noColor)
	out := cmd.OutOrStdout()
	for _, e := range res.Logs {
		fmt.Fprintf(out, "%s %s %s", st.muted.Render(e.Time.Format("15:04:05")), levelStyle(st, e.Level).Render(e.Level), e.Message)
		for k, v := range e.Attrs {
			fmt.Fprintf(out, " %s=%v", st.muted.Render(k), v)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func simpleCommand(cmd *cobra.Command, action control.Action, payload string) error {
	res, err := runCommand(cmd.Context(), action, payload)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func printResult(w io.Writer, res *control.Result) {
	if quiet {
		return
	}
	st := newStyles(noColor)
	if res.Ignored {
		fmt.Fprintln(w, st.muted.Render("ignored: addressed to another instance"))
		return
	}
	fmt.Fprintln(w, st.ok.Render("✓")+" "+res.Message)
}

func levelStyle(st styles, level string) lipgloss.Style {
	switch strings.ToUpper(level) {
	case "ERROR":
		return st.fail
	case "WARN":
		return st.warn
	case "DEBUG":
		return st.muted
	default:
		return st.ok
	}
}
