package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/service/workflow"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [state|search|history|writes|recovery]",
	Short: "Dump the durable workflow records",
	Long: `Print the records kept in the state store: the workflow state, the
search in progress, the recent row history, the write log and the
per-row recovery counters. Without an argument everything is printed.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"state", "search", "history", "writes", "recovery"},
	RunE:      runInspect,
}

var recoveryResetCmd = &cobra.Command{
	Use:   "reset-recovery <sheet> <row>",
	Short: "Forget the failure count of a row",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecoveryReset,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print as JSON")
	inspectCmd.AddCommand(recoveryResetCmd)
	rootCmd.AddCommand(inspectCmd)
}

// durableRecords is everything the state store holds for one workflow.
type durableRecords struct {
	State    *core.WorkflowState   `json:"state,omitempty"`
	Search   *core.SearchContext   `json:"search,omitempty"`
	History  []core.HistoryEntry   `json:"history,omitempty"`
	Writes   []core.WriteLogEntry  `json:"writes,omitempty"`
	Recovery []core.RecoveryRecord `json:"recovery,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	kv, err := openState(cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	store := workflow.NewStateStore(kv)
	which := "all"
	if len(args) == 1 {
		which = args[0]
	}
	want := func(name string) bool { return which == "all" || which == name }

	var rec durableRecords
	if want("state") {
		if rec.State, err = store.LoadState(ctx); err != nil {
			return err
		}
	}
	if want("search") {
		if rec.Search, err = store.LoadSearch(ctx); err != nil {
			return err
		}
	}
	if want("history") {
		if rec.History, err = store.History(ctx); err != nil {
			return err
		}
	}
	if want("writes") {
		if rec.Writes, err = store.WriteLogs(ctx); err != nil {
			return err
		}
	}
	if want("recovery") {
		tracker := workflow.NewRecoveryTracker(kv, recoveryConfig(cfg.Recovery.Threshold, cfg.Recovery.Window), time.Now)
		if rec.Recovery, err = tracker.Records(ctx); err != nil {
			return err
		}
		sort.Slice(rec.Recovery, func(i, j int) bool {
			return rec.Recovery[i].Timestamp.After(rec.Recovery[j].Timestamp)
		})
	}

	if inspectJSON {
		return outputJSON(cmd.OutOrStdout(), rec)
	}
	return outputYAML(cmd.OutOrStdout(), rec)
}

func runRecoveryReset(cmd *cobra.Command, args []string) error {
	var row int
	if _, err := fmt.Sscanf(args[1], "%d", &row); err != nil || row <= 0 {
		return fmt.Errorf("invalid row %q", args[1])
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	kv, err := openState(cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	tracker := workflow.NewRecoveryTracker(kv, recoveryConfig(cfg.Recovery.Threshold, cfg.Recovery.Window), time.Now)
	key := core.RowKey{SheetID: args[0], Row: core.RowID(row)}
	if err := tracker.Clear(cmd.Context(), key); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "recovery record for %s cleared\n", key)
	}
	return nil
}

func recoveryConfig(threshold int, window time.Duration) workflow.RecoveryConfig {
	rc := workflow.DefaultRecoveryConfig()
	if threshold > 0 {
		rc.Threshold = threshold
	}
	if window > 0 {
		rc.Window = window
	}
	return rc
}
