// Package main is the container healthcheck for the approval engine. It
// requests the readiness endpoint and exits 0 on a 2xx response, 1 otherwise.
//
// Usage: healthcheck [url]   (default http://localhost:8080/readyz, or
// $APPROVALS_HEALTHCHECK_URL)
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/readyz"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	url := os.Getenv("APPROVALS_HEALTHCHECK_URL")
	if len(args) > 0 {
		url = args[0]
	}
	if url == "" {
		url = defaultURL
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return 0
	}
	fmt.Fprintf(os.Stderr, "healthcheck failed: status %d\n", resp.StatusCode)
	return 1
}
