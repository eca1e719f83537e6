// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"testing"
	"time"
)

func TestSnapshotRendersRecordedSeries(t *testing.T) {
	RecordStageTransition("transcript", "summary")
	HTTPRequestStarted()
	HTTPRequestFinished("/process", "POST", "200", 12*time.Millisecond)

	snap, err := Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, ok := snap["collected_at"].(string); !ok {
		t.Error("snapshot is missing collected_at")
	}
	families, ok := snap["families"].(map[string]any)
	if !ok {
		t.Fatal("snapshot is missing families")
	}

	series, ok := families["fird_pipeline_stage_transitions_total"].([]map[string]any)
	if !ok || len(series) == 0 {
		t.Fatal("stage transition family not rendered")
	}
	found := false
	for _, point := range series {
		labels, _ := point["labels"].(map[string]string)
		if labels["from"] == "transcript" && labels["to"] == "summary" {
			found = true
			if v, _ := point["value"].(float64); v < 1 {
				t.Errorf("transition counter = %v, want >= 1", v)
			}
		}
	}
	if !found {
		t.Error("transcript->summary series missing from snapshot")
	}

	hist, ok := families["fird_http_request_duration_seconds"].([]map[string]any)
	if !ok || len(hist) == 0 {
		t.Fatal("http duration family not rendered")
	}
	if _, present := hist[0]["count"]; !present {
		t.Error("histogram point is missing count")
	}
}
