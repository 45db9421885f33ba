package model

import (
	"encoding/json"
	"time"
)

// InsightType identifies the class of generated insight.
type InsightType string

const (
	// InsightDaily is a per-user daily health summary.
	InsightDaily InsightType = "daily"
	// InsightTrend is a per-user weekly longitudinal trend analysis.
	InsightTrend InsightType = "trend"
)

// InsightRecord is one generated insight document. The (UserID, Type,
// Period) triple is unique; regenerating an insight for the same period
// replaces the previous content.
type InsightRecord struct {
	ID     string      `json:"id"     db:"id"`
	UserID string      `json:"userId" db:"user_id"`
	Type   InsightType `json:"type"   db:"insight_type"`
	// Period keys the generation slot: "2006-01-02" for daily insights,
	// ISO week "2006-W02" for trends.
	Period      string    `json:"period"      db:"period"`
	GeneratedAt time.Time `json:"generatedAt" db:"generated_at"`
	RangeStart  time.Time `json:"rangeStart"  db:"range_start"`
	RangeEnd    time.Time `json:"rangeEnd"    db:"range_end"`
	// DataPoints is the number of work items that informed the insight.
	DataPoints int             `json:"dataPoints" db:"data_points"`
	Content    json.RawMessage `json:"content"    db:"content"`
}
