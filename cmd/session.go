package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/adalundhe/aipm/core/gitops"
	"github.com/adalundhe/aipm/core/merge"
	"github.com/adalundhe/aipm/core/session"
)

var sessionMergeRemote bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage checkpoint sessions",
	Long: `A session backs up the live store, loads the context snapshot, and hands
the store to the assistant. Ending the session saves the assistant's state
back to the snapshot and restores the original live store.`,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Begin a session and hand off the live store",
	RunE:  runSessionStart,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "Reclaim the live store and checkpoint the session",
	RunE:  runSessionEnd,
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the in-flight session, if any",
	RunE:  runSessionStatus,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	sessionCmd.AddCommand(sessionStatusCmd)

	sessionStartCmd.Flags().BoolVar(&sessionMergeRemote, "merge-remote", false,
		"Fetch and merge the peer snapshot before loading")
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.close()

	if _, err := os.Stat(w.statePath()); err == nil {
		return fmt.Errorf("a session is already in flight, run 'aipm session end' first")
	}

	opts := session.BeginOptions{
		Context:      contextName,
		LivePath:     w.livePath(),
		SnapshotPath: w.snapshotPath(),
		BackupPath:   w.backupPath(),
	}

	if sessionMergeRemote {
		remotePath, fetchErr := fetchRemoteSnapshot(cmd, w)
		if fetchErr != nil {
			return fetchErr
		}
		if remotePath != "" {
			policy, policyErr := merge.ParsePolicy(w.cfg.Merge.Policy)
			if policyErr != nil {
				return policyErr
			}
			opts.RemotePath = remotePath
			opts.Policy = policy
		}
	}

	s, err := w.sessions.Begin(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if err := w.sessions.SaveState(w.statePath()); err != nil {
		return fmt.Errorf("persist session state: %w", err)
	}

	fmt.Printf("Session %s started for context %q.\n", s.ID, s.Context)
	if s.MergeStats != nil {
		printMergeStats(s.MergeStats)
	}
	fmt.Println("Live store handed off; run 'aipm session end' when the assistant is done.")
	return nil
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.close()

	s, err := w.sessions.Resume(w.statePath())
	if err != nil {
		return fmt.Errorf("no session to end: %w", err)
	}

	if err := w.sessions.End(cmd.Context()); err != nil {
		return err
	}
	if err := session.ClearState(w.statePath()); err != nil {
		w.logger.Warn("session state cleanup failed", "error", err)
	}

	fmt.Printf("Session %s checkpointed to %s.\n", s.ID, w.snapshotPath())

	if w.cfg.Git.Enabled && w.cfg.Git.AutoCommit {
		commitSnapshot(cmd, w, s.Context)
	}
	return nil
}

// commitSnapshot commits the checkpoint after a session. Failures warn: the
// snapshot is already safe on disk and a commit can be made by hand.
func commitSnapshot(cmd *cobra.Command, w *workspace, ctxName string) {
	client, err := gitops.NewClient(projectDir)
	if err != nil {
		w.logger.Warn("auto-commit skipped", "error", err)
		return
	}
	rel, err := client.SnapshotRelPath(w.snapshotPath())
	if err != nil {
		w.logger.Warn("auto-commit skipped", "error", err)
		return
	}

	message := fmt.Sprintf("checkpoint %s memory", ctxName)
	_, err = client.CommitSnapshot(cmd.Context(), rel, message)
	switch {
	case errors.Is(err, gitops.ErrNoChanges):
		fmt.Println("Snapshot unchanged, nothing committed.")
	case err != nil:
		w.logger.Warn("auto-commit failed", "error", err)
	default:
		fmt.Printf("Committed %s.\n", rel)
	}
}

func runSessionStatus(cmd *cobra.Command, args []string) error {
	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.close()

	data, err := os.ReadFile(w.statePath())
	if os.IsNotExist(err) {
		fmt.Println("No session in flight.")
		return nil
	}
	if err != nil {
		return err
	}

	var state map[string]any
	if err := yaml.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse session state: %w", err)
	}
	fmt.Printf("Session %v (context %v) started %v, handoff state %v.\n",
		state["id"], state["context"], state["started_at"], state["handoff_state"])
	return nil
}
