package model

type MetricType string

const (
	MetricTypeNodeReport MetricType = "node_report"
)

// Envelope is transport-agnostic framing for published reports.
type Envelope struct {
	Type          MetricType `json:"type"`
	NodeID        string     `json:"node_id"`
	TimestampUnix int64      `json:"timestamp_unix"`
	Payload       any        `json:"payload"`
}

// NodeReport is a rendered record together with where it was written.
type NodeReport struct {
	Record NodeRecord `json:"record"`
	Path   string     `json:"path"`
	Text   string     `json:"text"`
}
