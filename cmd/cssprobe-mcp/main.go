package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/cssprobe/models"
)

func main() {
	apiURL := os.Getenv("CSSPROBE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("CSSPROBE_API_KEY")

	s := server.NewMCPServer(
		"cssprobe",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	auditTool := mcp.NewTool("audit_selectors",
		mcp.WithDescription("Crawl pages and report which CSS selectors match elements in them. Useful for finding dead CSS before deleting it."),
		mcp.WithArray("selectors",
			mcp.Required(),
			mcp.Description("CSS selectors to count. Pseudo-classes are stripped before matching; selectors containing '@' are reported as ignored."),
		),
		mcp.WithArray("crawl",
			mcp.Description("Seed URLs, file paths or HTML strings whose same-origin links are followed"),
		),
		mcp.WithArray("include",
			mcp.Description("Pages matched without following their links"),
		),
		mcp.WithArray("exclude",
			mcp.Description("Pages never visited. A trailing '*' excludes every link under that path prefix."),
		),
		mcp.WithArray("whitelist",
			mcp.Description("Selectors to leave out of the report entirely"),
		),
		mcp.WithString("cookie",
			mcp.Description("Session cookie (e.g. 'sessionid=abc'). When set, every page is also visited logged in."),
		),
	)
	s.AddTool(auditTool, handleAuditSelectors(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleAuditSelectors(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 60 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		selectors, err := request.RequireStringSlice("selectors")
		if err != nil {
			return mcp.NewToolResultError("selectors is required and must be an array of strings"), nil
		}

		payload := models.AuditRequest{
			Pages: models.Pages{
				Crawl:   request.GetStringSlice("crawl", nil),
				Include: request.GetStringSlice("include", nil),
				Exclude: request.GetStringSlice("exclude", nil),
			},
			Selectors: selectors,
			Whitelist: request.GetStringSlice("whitelist", nil),
			Cookie:    request.GetString("cookie", ""),
		}
		if err := payload.Validate(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/audit/jobs", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("audit request failed: %v", err)), nil
		}

		var jobResp models.JobResponse
		if err := json.Unmarshal(respBody, &jobResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse audit response: %v", err)), nil
		}
		if jobResp.ID == "" {
			return mcp.NewToolResultError("audit job creation failed"), nil
		}

		resultBody, err := pollJobCompletion(ctx, client, apiURL, apiKey, "/api/v1/audit/jobs/"+jobResp.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling audit job failed: %v", err)), nil
		}

		var status models.JobStatusResponse
		if err := json.Unmarshal(resultBody, &status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse audit status: %v", err)), nil
		}
		if status.Status != models.JobCompleted || status.Result == nil {
			errMsg := "audit failed"
			if status.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", status.Error.Code, status.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		return mcp.NewToolResultText(formatAudit(status.ID, status.Result)), nil
	}
}

// formatAudit renders a result as plain text, most-used selectors first.
func formatAudit(id string, r *models.AuditResponse) string {
	type row struct {
		sel string
		n   int
	}
	rows := make([]row, 0, len(r.Used))
	for sel, n := range r.Used {
		if n > 0 {
			rows = append(rows, row{sel, n})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].n != rows[j].n {
			return rows[i].n > rows[j].n
		}
		return rows[i].sel < rows[j].sel
	})

	ignored := make([]string, 0, len(r.Ignored))
	for sel := range r.Ignored {
		ignored = append(ignored, sel)
	}
	sort.Strings(ignored)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Audit %s: %d used, %d unused, %d ignored\n", id, len(rows), len(r.Unused), len(ignored))

	sb.WriteString("\nUsed:\n")
	for _, rw := range rows {
		fmt.Fprintf(&sb, "  %6d  %s\n", rw.n, rw.sel)
	}
	sb.WriteString("\nUnused:\n")
	for _, sel := range r.Unused {
		fmt.Fprintf(&sb, "  %s\n", sel)
	}
	if len(ignored) > 0 {
		sb.WriteString("\nIgnored (attribute selectors):\n")
		for _, sel := range ignored {
			fmt.Fprintf(&sb, "  %s\n", sel)
		}
	}
	return sb.String()
}

// apiPost sends a POST request to the cssprobe API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls a job endpoint until status is no longer "processing" or context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, apiKey, endpoint string) ([]byte, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("create poll request: %w", err)
			}
			if apiKey != "" {
				req.Header.Set("X-API-Key", apiKey)
			}

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read poll response: %w", err)
			}

			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}

			if status.Status != models.JobProcessing {
				return body, nil
			}
		}
	}
}
