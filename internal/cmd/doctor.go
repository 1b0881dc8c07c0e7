package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planloop/planloop/internal/exitcode"
	"github.com/planloop/planloop/internal/run"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run the consistency checks a run performs before starting",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	result := run.Check(cmd.Context(), a.store, a.newLedger(""), a.newAllocator())

	fmt.Println(styleHeading.Render("Consistency check"))
	for _, f := range result.Findings {
		fmt.Printf("  %s %s: %s\n", renderSeverity(f.Severity), f.Name, f.Detail)
	}

	if result.Blocking() {
		fmt.Println()
		fmt.Println(styleErr.Render("blocking problems found; runs will refuse to start"))
		exitcode.Exit(exitcode.ConfigFatal)
	}
	return nil
}

func renderSeverity(s run.Severity) string {
	switch s {
	case run.SeverityCritical:
		return styleErr.Render("✗")
	case run.SeverityWarn:
		return styleWarn.Render("!")
	default:
		return styleOK.Render("✓")
	}
}
