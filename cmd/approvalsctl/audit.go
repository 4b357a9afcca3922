package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	auditProject   string
	auditEntity    string
	auditEntityID  string
	auditActor     string
	auditPageSize  int
	auditPageToken string
)

type auditEntry struct {
	ID        string         `json:"id"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actorId"`
	ProjectID string         `json:"projectId,omitempty"`
	OldValue  map[string]any `json:"oldValue,omitempty"`
	NewValue  map[string]any `json:"newValue,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

type auditPage struct {
	Entries       []auditEntry `json:"entries"`
	NextPageToken string       `json:"nextPageToken"`
	TotalSize     int          `json:"totalSize"`
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List audit log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		setIf(q, "projectId", auditProject)
		setIf(q, "entity", auditEntity)
		setIf(q, "entityId", auditEntityID)
		setIf(q, "actorId", auditActor)
		setIf(q, "pageToken", auditPageToken)
		if auditPageSize > 0 {
			q.Set("pageSize", strconv.Itoa(auditPageSize))
		}

		path := auditPath
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var page auditPage
		if err := newClient().getJSON(path, &page); err != nil {
			return fmt.Errorf("failed to list audit entries: %w", err)
		}

		out := cmd.OutOrStdout()
		if structured() {
			return printOutput(out, page)
		}
		rows := make([][]string, 0, len(page.Entries))
		for _, e := range page.Entries {
			rows = append(rows, []string{
				e.CreatedAt,
				e.ActorID,
				e.Action,
				e.Entity + "/" + truncate(e.EntityID, 12),
				e.ProjectID,
			})
		}
		printTable(out, []string{"Time", "Actor", "Action", "Entity", "Project"}, rows)
		fmt.Fprintf(out, "Total: %d\n", page.TotalSize)
		if page.NextPageToken != "" {
			fmt.Fprintf(out, "Next page: --page-token %s\n", page.NextPageToken)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditProject, "project", "", "Filter by project id")
	auditCmd.Flags().StringVar(&auditEntity, "entity", "", "Filter by entity type")
	auditCmd.Flags().StringVar(&auditEntityID, "entity-id", "", "Filter by entity id")
	auditCmd.Flags().StringVar(&auditActor, "actor", "", "Filter by actor id")
	auditCmd.Flags().IntVar(&auditPageSize, "page-size", 0, "Page size (server default when 0)")
	auditCmd.Flags().StringVar(&auditPageToken, "page-token", "", "Token from a previous page")
}
