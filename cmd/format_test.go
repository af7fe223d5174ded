//go:build !integration

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/provsync"
)

func TestFormatFleetResult(t *testing.T) {
	res := &model.FleetResult{
		Provider: "monroe",
		Mode:     provsync.ModeIncremental,
		Results: []model.BranchOutcome{
			{Branch: "SA1", Windows: 2, Data: []model.Record{{CustomerReference: "1"}, {CustomerReference: "2"}}},
		},
		Skipped: []model.Skip{{Branch: "SA2", Reason: "token: login rejected"}},
		Stored:  12,
	}

	var buf bytes.Buffer
	formatFleetResult(&buf, res)
	out := buf.String()

	assert.Contains(t, out, "monroe (incremental): 1 branches synced, 1 skipped, 12 records stored")
	assert.Contains(t, out, "BRANCH")
	assert.Contains(t, out, "SA1")
	assert.Contains(t, out, "token: login rejected")
}

func TestFormatFleetResult_UpToDate(t *testing.T) {
	var buf bytes.Buffer
	formatFleetResult(&buf, &model.FleetResult{Provider: "suizo", Mode: provsync.ModeIncremental})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1, "no table when nothing ran")
}

func TestFormatRuns(t *testing.T) {
	started := time.Date(2024, 6, 15, 6, 30, 0, 0, time.UTC)
	done := started.Add(95 * time.Second)
	entries := []provsync.RunEntry{
		{
			ID: "0f8fad5b-d9cb-469f-a165-70867728950e", Provider: "monroe", Mode: provsync.ModeIncremental,
			Status: provsync.StatusComplete, StartedAt: started, CompletedAt: &done,
			Branches: 3, Records: 40, Skipped: []model.Skip{{Branch: "SA2", Reason: "x"}},
		},
		{
			ID: "7c9e6679", Provider: "suizo", Mode: provsync.ModeExplicit,
			Status: provsync.StatusFailed, StartedAt: started,
			Error: strings.Repeat("upstream unavailable ", 5),
		},
	}

	var buf bytes.Buffer
	formatRuns(&buf, entries)
	out := buf.String()

	assert.Contains(t, out, "0f8fad5b")
	assert.NotContains(t, out, "0f8fad5b-d9cb")
	assert.Contains(t, out, "1m35s")
	assert.Contains(t, out, "2024-06-15 06:30")
	assert.Contains(t, out, "...")
	assert.Contains(t, out, "explicit")
}

func TestFormatWatermarks(t *testing.T) {
	latest := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatWatermarks(&buf, []watermark{
		{Provider: "cofarsur", Records: 0},
		{Provider: "monroe", Records: 5, Latest: &latest},
	})
	out := buf.String()

	assert.Contains(t, out, "PROVIDER")
	assert.Contains(t, out, "2024-06-14 10:00:00")
	assert.Regexp(t, `cofarsur\s+0\s+-`, out)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
