package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/planloop/planloop/internal/counter"
	"github.com/planloop/planloop/internal/exitcode"
)

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Inspect the shared id counter store",
}

var countersShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current counter values",
	RunE:  runCountersShow,
}

var countersVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check local allocations against the shared store before pushing",
	Long: `Check that every number this working copy handed out is at or below
the shared store's counters. A mismatch means another writer rewound the
counter branch and locally-created ids may collide; resolve it before
pushing.`,
	RunE: runCountersVerify,
}

func init() {
	countersCmd.AddCommand(countersShowCmd, countersVerifyCmd)
	rootCmd.AddCommand(countersCmd)
}

func runCountersShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	state, err := a.newAllocator().ReadCounters(cmd.Context())
	if errors.Is(err, counter.ErrNotInitialized) {
		fmt.Println(styleMuted.Render("counter store not initialized; first allocation will create it"))
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println(styleHeading.Render("Shared counters"))
	fmt.Printf("  spec number:             %d\n", state.SpecNumber)
	fmt.Printf("  standalone task number:  %d\n", state.StandaloneTaskNumber)
	return nil
}

func runCountersVerify(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ok, reason, err := a.newAllocator().VerifyBeforePush(cmd.Context())
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println(styleErr.Render("verify failed: ") + reason)
		exitcode.Exit(exitcode.GeneralError)
	}
	fmt.Println(styleOK.Render("counters consistent"))
	return nil
}
