package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adalundhe/aipm/core/filesystem"
	"github.com/adalundhe/aipm/core/gitops"
	"github.com/adalundhe/aipm/core/merge"
)

var syncPolicy string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Merge the peer snapshot from the remote into the local snapshot",
	Long: `Fetches the context snapshot from the configured remote branch, merges it
into the local snapshot, and commits the result. The merge output is
validated before it replaces the local snapshot.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVar(&syncPolicy, "policy", "",
		"Conflict policy: remote-wins, local-wins, newest-wins (defaults to config)")
}

func runSync(cmd *cobra.Command, args []string) error {
	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.close()

	if !w.cfg.Git.Enabled {
		return fmt.Errorf("git sync is disabled in configuration")
	}

	policyName := syncPolicy
	if policyName == "" {
		policyName = w.cfg.Merge.Policy
	}
	policy, err := merge.ParsePolicy(policyName)
	if err != nil {
		return err
	}

	remotePath, err := fetchRemoteSnapshot(cmd, w)
	if err != nil {
		return err
	}
	if remotePath == "" {
		fmt.Println("No peer snapshot on the remote yet, nothing to merge.")
		return nil
	}

	local := w.snapshotPath()
	if _, statErr := os.Stat(local); os.IsNotExist(statErr) {
		if err := filesystem.ReplaceFile(local, []byte("{}\n")); err != nil {
			return fmt.Errorf("seed empty snapshot: %w", err)
		}
	}
	stats, err := w.merger.MergeFiles(local, remotePath, local, policy)
	if err != nil {
		return err
	}
	printMergeStats(stats)

	client, err := gitops.NewClient(projectDir)
	if err != nil {
		return err
	}
	rel, err := client.SnapshotRelPath(local)
	if err != nil {
		return err
	}
	_, err = client.CommitSnapshot(cmd.Context(), rel, fmt.Sprintf("sync %s memory", contextName))
	if errors.Is(err, gitops.ErrNoChanges) {
		fmt.Println("Snapshot unchanged, nothing committed.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Committed %s.\n", rel)
	return nil
}

// fetchRemoteSnapshot materializes the peer snapshot locally. Returns an
// empty path when the remote has no snapshot for this context.
func fetchRemoteSnapshot(cmd *cobra.Command, w *workspace) (string, error) {
	client, err := gitops.NewClient(projectDir)
	if err != nil {
		return "", err
	}

	rel, err := client.SnapshotRelPath(w.snapshotPath())
	if err != nil {
		return "", err
	}

	dest := w.remotePath()
	err = client.FetchSnapshot(cmd.Context(), w.cfg.Git.Remote, w.cfg.Git.Branch, rel, dest)
	if errors.Is(err, gitops.ErrSnapshotNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fetch peer snapshot: %w", err)
	}
	return dest, nil
}

func printMergeStats(stats *merge.Stats) {
	fmt.Printf("Merged %d entities and %d relations (%d conflicts resolved, %d duplicate relations dropped).\n",
		stats.Entities, stats.Relations, stats.Conflicts, stats.DroppedRelations)
}
