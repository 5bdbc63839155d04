package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adalundhe/aipm/core/validate"
)

var validateFormat string

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a store file",
	Long: `Streams a store file and reports malformed lines, missing fields, and
naming policy violations. With no argument, validates the context snapshot.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateFormat, "format", "f", "table", "Output format (table, json)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.close()

	path := w.snapshotPath()
	if len(args) == 1 {
		path = args[0]
	}

	report, err := w.validator.ValidateFile(path)
	if err != nil {
		return err
	}

	if err := printReport(path, report); err != nil {
		return err
	}
	if !report.IsValid() {
		return fmt.Errorf("%s is invalid", path)
	}
	return nil
}

func printReport(path string, report *validate.Report) error {
	if validateFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	fmt.Printf("%s: %d entities, %d relations\n", path, report.EntityCount, report.RelationCount)
	if report.SizePressure {
		fmt.Println("Warning: store size is approaching the configured limit.")
	}
	if len(report.Errors) == 0 {
		fmt.Println("No issues found.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tISSUE")
	fmt.Fprintln(tw, "----\t-----")
	for _, issue := range report.Errors {
		fmt.Fprintf(tw, "%d\t%s\n", issue.Line, issue.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if report.Truncated {
		fmt.Println("Error limit reached; the scan stopped early.")
	}
	return nil
}
