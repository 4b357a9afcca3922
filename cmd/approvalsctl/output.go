package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/auditcore/approval-engine/pkg/approvals"
)

func structured() bool {
	return outputFmt == "json" || outputFmt == "yaml"
}

func printOutput(w io.Writer, v any) error {
	switch outputFmt {
	case "json":
		return printJSON(w, v)
	case "yaml":
		return printYAML(w, v)
	default:
		return fmt.Errorf("unsupported output format for structured data: %s (use json or yaml)", outputFmt)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	// Convert through JSON to get consistent keys (json tags).
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return enc.Encode(m)
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	upperHeaders := make([]string, len(headers))
	for i, h := range headers {
		upperHeaders[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(tw, strings.Join(upperHeaders, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

func printWorkflows(w io.Writer, workflows []approvals.Workflow) error {
	if structured() {
		return printOutput(w, workflows)
	}
	headers := []string{"ID", "Project", "Resource", "Status", "Active", "Due", "Overdue"}
	rows := make([][]string, 0, len(workflows))
	for _, wf := range workflows {
		rows = append(rows, []string{
			truncate(wf.ID, 12),
			wf.ProjectID,
			wf.ResourceType + "/" + wf.ResourceID,
			string(wf.Status),
			activeApprover(wf),
			deref(wf.DueAt, "-"),
			fmt.Sprintf("%t", wf.Overdue),
		})
	}
	printTable(w, headers, rows)
	fmt.Fprintf(w, "Total: %d\n", len(workflows))
	return nil
}

func printWorkflow(w io.Writer, wf approvals.Workflow) error {
	if structured() {
		return printOutput(w, wf)
	}
	fmt.Fprintf(w, "ID:        %s\n", wf.ID)
	fmt.Fprintf(w, "Project:   %s\n", wf.ProjectID)
	fmt.Fprintf(w, "Resource:  %s/%s\n", wf.ResourceType, wf.ResourceID)
	fmt.Fprintf(w, "Status:    %s\n", wf.Status)
	fmt.Fprintf(w, "Due:       %s\n", deref(wf.DueAt, "-"))
	fmt.Fprintf(w, "Overdue:   %t\n", wf.Overdue)
	fmt.Fprintln(w)

	rows := make([][]string, 0, len(wf.Steps))
	for _, st := range wf.Steps {
		marker := ""
		if wf.ActiveStep != nil && *wf.ActiveStep == st.Order {
			marker = "*"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d%s", st.Order, marker),
			approverLabel(st),
			string(st.Status),
			deref(st.DecidedBy, "-"),
			deref(st.Comments, ""),
		})
	}
	printTable(w, []string{"Order", "Approver", "Status", "Decided By", "Comments"}, rows)
	return nil
}

func activeApprover(wf approvals.Workflow) string {
	if wf.ActiveStep == nil {
		return "-"
	}
	for _, st := range wf.Steps {
		if st.Order == *wf.ActiveStep {
			return fmt.Sprintf("%d:%s", st.Order, approverLabel(st))
		}
	}
	return "-"
}

func approverLabel(st approvals.Step) string {
	if st.ApproverID != nil {
		return *st.ApproverID
	}
	if st.ApproverRole != nil {
		return "role:" + *st.ApproverRole
	}
	return "-"
}

func deref(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

// truncate shortens a string to max length, appending "..." if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
