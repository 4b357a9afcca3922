package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/auditcore/approval-engine/pkg/approvals"
)

var (
	listProject      string
	listResourceType string
	listResourceID   string
	listStatus       string
	listOverdue      string

	createFile         string
	createProject      string
	createResourceType string
	createResourceID   string
	createDue          string
	createSteps        []string

	decisionComment string

	updateStatus string
	updateDue    string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		setIf(q, "projectId", listProject)
		setIf(q, "resourceType", listResourceType)
		setIf(q, "resourceId", listResourceID)
		setIf(q, "status", listStatus)
		setIf(q, "overdue", listOverdue)

		path := workflowsPath
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var result []approvals.Workflow
		if err := newClient().getJSON(path, &result); err != nil {
			return fmt.Errorf("failed to list workflows: %w", err)
		}
		return printWorkflows(cmd.OutOrStdout(), result)
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List workflows awaiting your decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result []approvals.Workflow
		if err := newClient().getJSON(workflowsPath+"/pending", &result); err != nil {
			return fmt.Errorf("failed to list pending workflows: %w", err)
		}
		return printWorkflows(cmd.OutOrStdout(), result)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a workflow with its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var wf approvals.Workflow
		if err := newClient().getJSON(workflowPath(args[0]), &wf); err != nil {
			return fmt.Errorf("failed to get workflow: %w", err)
		}
		return printWorkflow(cmd.OutOrStdout(), wf)
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an approval workflow",
	Long: `Create an approval workflow from a YAML or JSON file (-f) or from flags.

Steps are given in approval order. A step is either a user id ("alice" or
"user:alice") or a role ("role:sponsor").`,
	Example: `  approvalsctl create --project p1 --resource-type document --resource-id doc-7 \
    --step role:consultor --step alice --due 2026-01-31T17:00:00Z
  approvalsctl create -f workflow.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildCreateRequest()
		if err != nil {
			return err
		}
		var wf approvals.Workflow
		if err := newClient().postJSON(workflowsPath, req, &wf); err != nil {
			return fmt.Errorf("failed to create workflow: %w", err)
		}
		return printWorkflow(cmd.OutOrStdout(), wf)
	},
}

var approveCmd = decisionCommand("approve", "Approve the active step of a workflow")
var rejectCmd = decisionCommand("reject", "Reject the active step of a workflow")

func decisionCommand(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if decisionComment != "" {
				body["comments"] = decisionComment
			}
			var wf approvals.Workflow
			if err := newClient().postJSON(workflowPath(args[0])+"/"+verb, body, &wf); err != nil {
				return fmt.Errorf("failed to %s: %w", verb, err)
			}
			return printWorkflow(cmd.OutOrStdout(), wf)
		},
	}
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Override a workflow's status or deadline (administrators)",
	Long: `Override a workflow's status and/or deadline.

Use --due none to clear the deadline.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := buildUpdateBody(cmd)
		if err != nil {
			return err
		}
		var wf approvals.Workflow
		if err := newClient().putJSON(workflowPath(args[0]), body, &wf); err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}
		return printWorkflow(cmd.OutOrStdout(), wf)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a workflow with its steps and timers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().delete(workflowPath(args[0])); err != nil {
			return fmt.Errorf("failed to delete workflow: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "workflow %s deleted\n", args[0])
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listProject, "project", "", "Filter by project id")
	listCmd.Flags().StringVar(&listResourceType, "resource-type", "", "Filter by resource type")
	listCmd.Flags().StringVar(&listResourceID, "resource-id", "", "Filter by resource id")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending, approved, rejected)")
	listCmd.Flags().StringVar(&listOverdue, "overdue", "", "Filter by overdue flag (true or false)")

	createCmd.Flags().StringVarP(&createFile, "file", "f", "", "YAML or JSON file describing the workflow")
	createCmd.Flags().StringVar(&createProject, "project", "", "Project id")
	createCmd.Flags().StringVar(&createResourceType, "resource-type", "", "Resource type")
	createCmd.Flags().StringVar(&createResourceID, "resource-id", "", "Resource id")
	createCmd.Flags().StringVar(&createDue, "due", "", "Deadline (RFC 3339)")
	createCmd.Flags().StringArrayVar(&createSteps, "step", nil, "Approver step, repeatable, in order")

	approveCmd.Flags().StringVar(&decisionComment, "comment", "", "Decision comment")
	rejectCmd.Flags().StringVar(&decisionComment, "comment", "", "Decision comment")

	updateCmd.Flags().StringVar(&updateStatus, "status", "", "New status (pending, approved, rejected)")
	updateCmd.Flags().StringVar(&updateDue, "due", "", "New deadline (RFC 3339), or none to clear it")

	rootCmd.AddCommand(listCmd, pendingCmd, getCmd, createCmd, approveCmd, rejectCmd, updateCmd, deleteCmd)
}

func workflowPath(id string) string {
	return workflowsPath + "/" + url.PathEscape(id)
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func buildCreateRequest() (*approvals.CreateWorkflowRequest, error) {
	req := &approvals.CreateWorkflowRequest{}
	if createFile != "" {
		data, err := os.ReadFile(createFile)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", createFile, err)
		}
		// JSON is valid YAML; the request carries yaml tags for both.
		if err := yaml.Unmarshal(data, req); err != nil {
			return nil, fmt.Errorf("parse %s: %w", createFile, err)
		}
	}

	if createProject != "" {
		req.ProjectID = createProject
	}
	if createResourceType != "" {
		req.ResourceType = createResourceType
	}
	if createResourceID != "" {
		req.ResourceID = createResourceID
	}
	if createDue != "" {
		due, err := time.Parse(time.RFC3339, createDue)
		if err != nil {
			return nil, fmt.Errorf("invalid --due %q: %w", createDue, err)
		}
		req.DueAt = &due
	}
	if len(createSteps) > 0 {
		req.Steps = nil
		for i, s := range createSteps {
			step, err := parseStep(s)
			if err != nil {
				return nil, err
			}
			order := i + 1
			step.Order = &order
			req.Steps = append(req.Steps, step)
		}
	}
	return req, nil
}

// parseStep reads "alice", "user:alice" or "role:sponsor".
func parseStep(s string) (approvals.CreateStepRequest, error) {
	kind, value, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		kind, value = "user", kind
	}
	if value == "" {
		return approvals.CreateStepRequest{}, fmt.Errorf("invalid step %q: empty approver", s)
	}
	switch kind {
	case "user":
		return approvals.CreateStepRequest{ApproverID: &value}, nil
	case "role":
		return approvals.CreateStepRequest{ApproverRole: &value}, nil
	default:
		return approvals.CreateStepRequest{}, fmt.Errorf("invalid step %q: expected user:<id> or role:<name>", s)
	}
}

// buildUpdateBody only includes the fields whose flags were given, since an
// explicit null dueAt clears the deadline.
func buildUpdateBody(cmd *cobra.Command) (map[string]any, error) {
	body := map[string]any{}
	if cmd.Flags().Changed("status") {
		body["status"] = updateStatus
	}
	if cmd.Flags().Changed("due") {
		if strings.EqualFold(updateDue, "none") || updateDue == "" {
			body["dueAt"] = nil
		} else {
			due, err := time.Parse(time.RFC3339, updateDue)
			if err != nil {
				return nil, fmt.Errorf("invalid --due %q: %w", updateDue, err)
			}
			body["dueAt"] = due.UTC().Format(time.RFC3339)
		}
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("nothing to update: pass --status and/or --due")
	}
	return body, nil
}
