package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"
)

type searchResponse struct {
	Total             int `json:"total"`
	DuplicatesDropped int `json:"duplicates_dropped"`
	Sources           map[string]struct {
		Status     string `json:"status"`
		Count      int    `json:"count"`
		Error      string `json:"error"`
		DurationMS int64  `json:"duration_ms"`
	} `json:"sources"`
	RunID string `json:"run_id"`
}

// Smoke test against a running server: one search, one line per source.
func main() {
	base := os.Getenv("BID_FINDER_URL")
	if base == "" {
		base = "http://localhost:8081"
	}
	q := url.Values{}
	if len(os.Args) > 1 {
		q.Set("keyword", os.Args[1])
	}

	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Get(base + "/api/v1/solicitations/search?" + q.Encode())
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	fmt.Printf("Response Status: %s\n", resp.Status)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Printf("Error decoding response: %v\n", err)
		os.Exit(1)
	}

	ids := make([]string, 0, len(body.Sources))
	for id := range body.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := body.Sources[id]
		fmt.Printf("  %-12s %-8s %4d results %6dms %s\n", id, s.Status, s.Count, s.DurationMS, s.Error)
	}
	fmt.Printf("Total: %d (duplicates dropped: %d) run=%s\n", body.Total, body.DuplicatesDropped, body.RunID)

	failed := 0
	for _, s := range body.Sources {
		if s.Status == "failed" {
			failed++
		}
	}
	if failed == len(body.Sources) && failed > 0 {
		os.Exit(2)
	}
}
