package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/planloop/planloop/internal/backend"
	"github.com/planloop/planloop/internal/task"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage work items",
	Long: `Create, inspect, and mutate work items in the configured backend.

Ids are allocated from the shared counter store, so concurrent working
copies never hand out the same number twice.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a work item with a collision-free id",
	Example: `  planloop task create --title "Wire up OAuth callback" --type task
  planloop task create --title "Auth rework" --type epic --priority 1
  planloop task create --title "Fix token refresh" --parent tk-12 --depends-on tk-14`,
	RunE: runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List work items",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a work item in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a work item",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskClose,
}

var taskReopenCmd = &cobra.Command{
	Use:   "reopen <id>",
	Short: "Reopen a closed work item",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskReopen,
}

var taskBlockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List open work items waiting on unfinished dependencies",
	RunE:  runTaskBlocked,
}

var taskDepCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage dependency edges",
}

var taskDepAddCmd = &cobra.Command{
	Use:   "add <id> <depends-on>",
	Short: "Add a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskDepAdd,
}

var taskDepRemoveCmd = &cobra.Command{
	Use:   "remove <id> <depends-on>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskDepRemove,
}

var taskLabelCmd = &cobra.Command{
	Use:   "label",
	Short: "Manage labels",
}

var taskLabelAddCmd = &cobra.Command{
	Use:   "add <id> <label>",
	Short: "Add a label",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskLabelAdd,
}

var taskLabelRemoveCmd = &cobra.Command{
	Use:   "remove <id> <label>",
	Short: "Remove a label",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskLabelRemove,
}

var (
	taskCreateTitle       string
	taskCreateDescription string
	taskCreateType        string
	taskCreatePriority    int
	taskCreateParent      string
	taskCreateDependsOn   []string
	taskCreateLabels      []string
	taskCreateAssignee    string

	taskListStatus string
	taskListType   string
	taskListParent string
	taskListLabel  string
)

func init() {
	taskCreateCmd.Flags().StringVar(&taskCreateTitle, "title", "", "task title (required)")
	taskCreateCmd.Flags().StringVar(&taskCreateDescription, "description", "", "longer description")
	taskCreateCmd.Flags().StringVar(&taskCreateType, "type", string(task.TypeTask), "task, feature, bug, epic, or gate")
	taskCreateCmd.Flags().IntVar(&taskCreatePriority, "priority", int(task.PriorityDefault), "priority 0 (most urgent) to 4")
	taskCreateCmd.Flags().StringVar(&taskCreateParent, "parent", "", "parent epic id")
	taskCreateCmd.Flags().StringSliceVar(&taskCreateDependsOn, "depends-on", nil, "ids this task depends on")
	taskCreateCmd.Flags().StringSliceVar(&taskCreateLabels, "label", nil, "labels to attach")
	taskCreateCmd.Flags().StringVar(&taskCreateAssignee, "assignee", "", "assignee")
	_ = taskCreateCmd.MarkFlagRequired("title")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "filter by status (open, in_progress, closed)")
	taskListCmd.Flags().StringVar(&taskListType, "type", "", "filter by type")
	taskListCmd.Flags().StringVar(&taskListParent, "parent", "", "filter by parent epic")
	taskListCmd.Flags().StringVar(&taskListLabel, "label", "", "filter by label")

	taskDepCmd.AddCommand(taskDepAddCmd, taskDepRemoveCmd)
	taskLabelCmd.AddCommand(taskLabelAddCmd, taskLabelRemoveCmd)
	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskCloseCmd,
		taskReopenCmd, taskBlockedCmd, taskDepCmd, taskLabelCmd)
	rootCmd.AddCommand(taskCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	ctx := cmd.Context()

	kind := task.Type(taskCreateType)
	if err := kind.Validate(); err != nil {
		return err
	}

	id, err := allocateID(ctx, a, kind)
	if err != nil {
		return err
	}

	record := &task.Record{
		ID:          id,
		Title:       taskCreateTitle,
		Description: taskCreateDescription,
		Status:      task.StatusOpen,
		Priority:    task.Priority(taskCreatePriority),
		Type:        kind,
		Labels:      taskCreateLabels,
		Parent:      task.ID(taskCreateParent),
		Assignee:    taskCreateAssignee,
	}
	for _, dep := range taskCreateDependsOn {
		record.DependsOn = append(record.DependsOn, task.ID(dep))
	}
	if err := record.Validate(); err != nil {
		return err
	}

	created, err := a.store.Create(ctx, record)
	if err != nil {
		return err
	}
	fmt.Println(styleOK.Render("created ") + created.ID.String())
	return nil
}

// allocateID draws the next number from the shared counter store. Epics
// come from the spec counter, everything else from the standalone
// counter.
func allocateID(ctx context.Context, a *app, kind task.Type) (task.ID, error) {
	alloc := a.newAllocator()
	var n int
	var err error
	if kind == task.TypeEpic {
		n, err = alloc.AllocateSpecNumber(ctx)
	} else {
		n, err = alloc.AllocateStandaloneNumber(ctx)
	}
	if err != nil {
		return "", err
	}
	return task.FormatID(a.cfg.IDPrefix, n), nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.store.List(cmd.Context(), backend.ListFilter{
		Status: task.Status(taskListStatus),
		Type:   task.Type(taskListType),
		Parent: task.ID(taskListParent),
		Label:  taskListLabel,
	})
	if err != nil {
		return err
	}
	printTaskTable(records)
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	record, err := a.store.Get(cmd.Context(), task.ID(args[0]))
	if err != nil {
		return err
	}

	fmt.Println(styleHeading.Render(record.ID.String()) + "  " + record.Title)
	fmt.Printf("  type:      %s\n", record.Type)
	fmt.Printf("  status:    %s\n", renderStatus(record.Status))
	fmt.Printf("  priority:  %d\n", record.Priority)
	if record.Parent != "" {
		fmt.Printf("  parent:    %s\n", record.Parent)
	}
	if record.Assignee != "" {
		fmt.Printf("  assignee:  %s\n", record.Assignee)
	}
	if len(record.Labels) > 0 {
		fmt.Printf("  labels:    %v\n", record.Labels)
	}
	if len(record.DependsOn) > 0 {
		fmt.Printf("  depends:   %v\n", record.DependsOn)
	}
	if len(record.Blocks) > 0 {
		fmt.Printf("  blocks:    %v\n", record.Blocks)
	}
	if record.Description != "" {
		fmt.Printf("\n%s\n", record.Description)
	}
	if len(record.AcceptanceCriteria) > 0 {
		fmt.Println("\n  acceptance criteria:")
		for _, c := range record.AcceptanceCriteria {
			fmt.Printf("    - %s\n", c)
		}
	}
	return nil
}

func runTaskClose(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	record, err := a.store.Close(cmd.Context(), task.ID(args[0]))
	if err != nil {
		return err
	}
	fmt.Println(styleOK.Render("closed ") + record.ID.String())
	return nil
}

func runTaskReopen(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	record, err := a.store.Reopen(cmd.Context(), task.ID(args[0]))
	if err != nil {
		return err
	}
	fmt.Println(styleOK.Render("reopened ") + record.ID.String())
	return nil
}

func runTaskBlocked(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.store.ListBlocked(cmd.Context())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println(styleMuted.Render("no blocked tasks"))
		return nil
	}
	printTaskTable(records)
	return nil
}

func runTaskDepAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	record, err := a.store.AddDependency(cmd.Context(), task.ID(args[0]), task.ID(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("%s now depends on %s\n", record.ID, args[1])
	return nil
}

func runTaskDepRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	record, err := a.store.RemoveDependency(cmd.Context(), task.ID(args[0]), task.ID(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("%s no longer depends on %s\n", record.ID, args[1])
	return nil
}

func runTaskLabelAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	record, err := a.store.AddLabel(cmd.Context(), task.ID(args[0]), args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s labels: %v\n", record.ID, record.Labels)
	return nil
}

func runTaskLabelRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	record, err := a.store.RemoveLabel(cmd.Context(), task.ID(args[0]), args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s labels: %v\n", record.ID, record.Labels)
	return nil
}

func printTaskTable(records []task.Record) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tPRI\tSTATUS\tPARENT\tTITLE")
	for i := range records {
		r := &records[i]
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.Type, r.Priority, r.Status, r.Parent, r.Title)
	}
	_ = w.Flush()
}

func renderStatus(s task.Status) string {
	switch s {
	case task.StatusClosed:
		return styleMuted.Render(string(s))
	case task.StatusInProgress:
		return styleWarn.Render(string(s))
	default:
		return styleOK.Render(string(s))
	}
}
