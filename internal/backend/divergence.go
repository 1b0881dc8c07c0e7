package backend

import (
	"fmt"
	"slices"
	"time"

	"github.com/planloop/planloop/internal/task"
)

// FieldDivergence describes one field on which the two stores disagree.
// Non-fatal: the stores are expected to converge eventually.
type FieldDivergence struct {
	TaskID         task.ID `json:"task_id"`
	Field          string  `json:"field"`
	PrimaryValue   string  `json:"primary_value"`
	SecondaryValue string  `json:"secondary_value"`
}

// Reporter receives divergence findings as a side channel. Findings are
// reported, never thrown: only identity violations abort operations.
type Reporter interface {
	ReportDivergence(d FieldDivergence)
}

// ReporterFunc adapts a function to the Reporter interface
type ReporterFunc func(d FieldDivergence)

// ReportDivergence implements Reporter
func (f ReporterFunc) ReportDivergence(d FieldDivergence) { f(d) }

// compareRecords returns the field-level differences between two views of
// the same task. Set-valued fields (labels, dependency sets) are compared
// order-insensitively; two representations differing only in order are
// never divergent. Scalars are compared by equality.
func compareRecords(primary, secondary *task.Record) []FieldDivergence {
	var out []FieldDivergence

	scalar := func(field, a, b string) {
		if a != b {
			out = append(out, FieldDivergence{
				TaskID:         primary.ID,
				Field:          field,
				PrimaryValue:   a,
				SecondaryValue: b,
			})
		}
	}

	scalar("title", primary.Title, secondary.Title)
	scalar("description", primary.Description, secondary.Description)
	scalar("status", string(primary.Status), string(secondary.Status))
	scalar("priority", fmt.Sprintf("%d", primary.Priority), fmt.Sprintf("%d", secondary.Priority))
	scalar("type", string(primary.Type), string(secondary.Type))
	scalar("parent", primary.Parent.String(), secondary.Parent.String())
	scalar("assignee", primary.Assignee, secondary.Assignee)
	scalar("created_at",
		primary.CreatedAt.UTC().Format(time.RFC3339Nano),
		secondary.CreatedAt.UTC().Format(time.RFC3339Nano))

	if d, ok := setDiff(primary.Labels, secondary.Labels); ok {
		out = append(out, FieldDivergence{TaskID: primary.ID, Field: "labels", PrimaryValue: d[0], SecondaryValue: d[1]})
	}
	if d, ok := setDiff(idStrings(primary.DependsOn), idStrings(secondary.DependsOn)); ok {
		out = append(out, FieldDivergence{TaskID: primary.ID, Field: "depends_on", PrimaryValue: d[0], SecondaryValue: d[1]})
	}
	if d, ok := setDiff(idStrings(primary.Blocks), idStrings(secondary.Blocks)); ok {
		out = append(out, FieldDivergence{TaskID: primary.ID, Field: "blocks", PrimaryValue: d[0], SecondaryValue: d[1]})
	}

	return out
}

func idStrings(ids []task.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// setDiff compares a and b as sets. When they differ it returns the
// elements unique to each side, formatted for the divergence report.
func setDiff(a, b []string) ([2]string, bool) {
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	as = slices.Compact(as)
	bs = slices.Compact(bs)

	if slices.Equal(as, bs) {
		return [2]string{}, false
	}

	onlyA := missingFrom(as, bs)
	onlyB := missingFrom(bs, as)
	return [2]string{fmt.Sprintf("extra: %v", onlyA), fmt.Sprintf("extra: %v", onlyB)}, true
}

func missingFrom(have, other []string) []string {
	var out []string
	for _, v := range have {
		if !slices.Contains(other, v) {
			out = append(out, v)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
