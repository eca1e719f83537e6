// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Snapshot renders every registered metric family into a JSON-friendly map.
// The authenticated /metrics endpoint serves this (cached), while the
// internal listener exposes the standard Prometheus text format.
func Snapshot() (map[string]any, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}

	rendered := make(map[string]any, len(families))
	for _, mf := range families {
		rendered[mf.GetName()] = renderFamily(mf)
	}

	return map[string]any{
		"collected_at": time.Now().UTC().Format(time.RFC3339),
		"families":     rendered,
	}, nil
}

func renderFamily(mf *dto.MetricFamily) []map[string]any {
	series := make([]map[string]any, 0, len(mf.GetMetric()))
	for _, m := range mf.GetMetric() {
		point := map[string]any{}
		if labels := m.GetLabel(); len(labels) > 0 {
			labelMap := make(map[string]string, len(labels))
			for _, l := range labels {
				labelMap[l.GetName()] = l.GetValue()
			}
			point["labels"] = labelMap
		}
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			point["value"] = m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			point["value"] = m.GetGauge().GetValue()
		case dto.MetricType_HISTOGRAM:
			h := m.GetHistogram()
			point["count"] = h.GetSampleCount()
			point["sum"] = h.GetSampleSum()
		case dto.MetricType_SUMMARY:
			s := m.GetSummary()
			point["count"] = s.GetSampleCount()
			point["sum"] = s.GetSampleSum()
		default:
			point["value"] = m.GetUntyped().GetValue()
		}
		series = append(series, point)
	}
	return series
}
