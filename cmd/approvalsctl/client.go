package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type approvalsClient struct {
	baseURL string
	user    string
	groups  []string
	token   string
	http    *http.Client
}

func newClient() *approvalsClient {
	return &approvalsClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		user:    asUser,
		groups:  asGroups,
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// getJSON performs a GET request and decodes the response.
func (c *approvalsClient) getJSON(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v, http.StatusOK)
}

// postJSON performs a POST request with a JSON body and decodes the response.
func (c *approvalsClient) postJSON(path string, body any, v any) error {
	return c.do(http.MethodPost, path, body, v, http.StatusOK, http.StatusCreated)
}

// putJSON performs a PUT request with a JSON body and decodes the response.
func (c *approvalsClient) putJSON(path string, body any, v any) error {
	return c.do(http.MethodPut, path, body, v, http.StatusOK)
}

func (c *approvalsClient) delete(path string) error {
	return c.do(http.MethodDelete, path, nil, nil, http.StatusOK, http.StatusNoContent)
}

func (c *approvalsClient) do(method, path string, body any, v any, expect ...int) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setIdentity(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range expect {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return statusError(resp)
	}

	if v != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
	}
	return nil
}

func (c *approvalsClient) setIdentity(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.user != "" {
		req.Header.Set("X-Remote-User", c.user)
	}
	if len(c.groups) > 0 {
		req.Header.Set("X-Remote-Group", strings.Join(c.groups, ","))
	}
}

// statusError turns an error response into an error carrying the server's
// message when the body is the usual {"error": ...} document.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
