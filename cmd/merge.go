package cmd

import (
	"github.com/spf13/cobra"

	"github.com/adalundhe/aipm/core/merge"
)

var (
	mergePolicy string
	mergeOut    string
)

var mergeCmd = &cobra.Command{
	Use:   "merge <local> <remote>",
	Short: "Merge two store files",
	Long: `Merges a remote store into a local one: entity conflicts are resolved by
the selected policy, relations are deduplicated by their endpoint triple,
and the output is validated before it is written.`,
	Args: cobra.ExactArgs(2),
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().StringVar(&mergePolicy, "policy", "",
		"Conflict policy: remote-wins, local-wins, newest-wins (defaults to config)")
	mergeCmd.Flags().StringVarP(&mergeOut, "out", "o", "",
		"Output path (defaults to overwriting the local file)")
}

func runMerge(cmd *cobra.Command, args []string) error {
	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.close()

	policyName := mergePolicy
	if policyName == "" {
		policyName = w.cfg.Merge.Policy
	}
	policy, err := merge.ParsePolicy(policyName)
	if err != nil {
		return err
	}

	out := mergeOut
	if out == "" {
		out = args[0]
	}

	stats, err := w.merger.MergeFiles(args[0], args[1], out, policy)
	if err != nil {
		return err
	}
	printMergeStats(stats)
	return nil
}
