package main

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	workflowsPath = "/api/approvals/v1/workflows"
	auditPath     = "/api/audit/v1/entries"
)

var (
	serverURL string
	outputFmt string
	asUser    string
	asGroups  []string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "approvalsctl",
	Short: "CLI for the approval engine",
	Long: `approvalsctl manages approval workflows on an approval engine server.

The caller's identity is sent as X-Remote-User / X-Remote-Group headers, or
as a bearer token when --token (or APPROVALS_TOKEN) is set.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("APPROVALS_SERVER", "http://localhost:8080"), "Approval engine server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&asUser, "user", os.Getenv("APPROVALS_USER"), "User id to act as")
	rootCmd.PersistentFlags().StringSliceVar(&asGroups, "group", nil, "Groups to send with the request")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("APPROVALS_TOKEN"), "Bearer token")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(auditCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
