// Package notify delivers overdue alerts. A Gateway sends one message; a
// Dispatcher queues messages in front of a Gateway so callers never wait on
// delivery.
package notify

import (
	"context"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Message is one aggregated notification.
type Message struct {
	Recipients []string `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
}

// Gateway delivers a message. It reports false without error when the
// message was skipped because delivery is not configured.
type Gateway interface {
	Send(ctx context.Context, m Message) (bool, error)
}

// mergeRecipients joins the requested and configured recipients, dropping
// blanks and duplicates while keeping first-seen order.
func mergeRecipients(requested, extra []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(requested)+len(extra))
	for _, list := range [][]string{requested, extra} {
		for _, r := range list {
			r = strings.TrimSpace(r)
			if r == "" || !seen.Add(strings.ToLower(r)) {
				continue
			}
			out = append(out, r)
		}
	}
	return out
}
