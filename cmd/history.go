package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	historyFormat string
	historyLimit  int
	historyMerges bool
)

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show recent sessions from the journal",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "table", "Output format (table, json)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of sessions to show")
	historyCmd.Flags().BoolVar(&historyMerges, "merges", false, "Show merge records for the given session")
}

func runHistory(cmd *cobra.Command, args []string) error {
	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.close()

	if w.journal == nil {
		return fmt.Errorf("the session journal is disabled or unavailable")
	}

	if historyMerges {
		if len(args) != 1 {
			return fmt.Errorf("--merges requires a session id")
		}
		return printMerges(cmd, w, args[0])
	}

	sessions, err := w.journal.Sessions(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded yet.")
		return nil
	}

	if historyFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(sessions)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONTEXT\tSTARTED\tENDED\tSTATUS")
	fmt.Fprintln(tw, "--\t-------\t-------\t-----\t------")
	for _, s := range sessions {
		ended := "-"
		if s.EndedAt != nil {
			ended = s.EndedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Context, s.StartedAt.Format("2006-01-02 15:04"), ended, s.Status)
	}
	return tw.Flush()
}

func printMerges(cmd *cobra.Command, w *workspace, sessionID string) error {
	merges, err := w.journal.Merges(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	if len(merges) == 0 {
		fmt.Println("No merges recorded for this session.")
		return nil
	}

	if historyFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(merges)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tPOLICY\tENTITIES\tRELATIONS\tCONFLICTS\tDROPPED")
	fmt.Fprintln(tw, "----\t------\t--------\t---------\t---------\t-------")
	for _, m := range merges {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			m.CreatedAt.Format("2006-01-02 15:04"), m.Policy,
			m.Entities, m.Relations, m.Conflicts, m.DroppedRelations)
	}
	return tw.Flush()
}
