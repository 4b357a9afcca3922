package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health and readiness",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := newClient()

	var healthResp map[string]any
	if err := client.getJSON("/healthz", &healthResp); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}

	var readyResp map[string]any
	if err := client.getJSON("/readyz", &readyResp); err != nil {
		// The server may still be starting.
		readyResp = map[string]any{"status": "unknown", "error": err.Error()}
	}

	out := cmd.OutOrStdout()
	if structured() {
		return printOutput(out, map[string]any{
			"health":    healthResp,
			"readiness": readyResp,
		})
	}

	status, _ := healthResp["status"].(string)
	uptime, _ := healthResp["uptime"].(string)
	ready, _ := readyResp["status"].(string)
	rows := [][]string{
		{"Liveness", status},
		{"Uptime", uptime},
		{"Readiness", ready},
	}
	if components, ok := readyResp["components"].(map[string]any); ok {
		for _, name := range []string{"database", "sla_monitor", "leader_election", "directory"} {
			c, ok := components[name].(map[string]any)
			if !ok {
				continue
			}
			state, _ := c["status"].(string)
			rows = append(rows, []string{name, state})
		}
	}
	printTable(out, []string{"Check", "Status"}, rows)
	return nil
}
