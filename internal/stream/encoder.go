package stream

import (
	"context"
	"encoding/json"
	"time"

	"node-reporter/internal/model"
)

// Sink publishes rendered reports after they have been written to disk.
type Sink interface {
	Publish(ctx context.Context, reports []model.NodeReport) error
	Close(ctx context.Context) error
}

type ReportFrame struct {
	NodeID        string           `json:"node_id"`
	Name          string           `json:"name,omitempty"`
	TimestampUnix int64            `json:"timestamp_unix"`
	Path          string           `json:"path"`
	Text          string           `json:"text"`
	Record        model.NodeRecord `json:"record"`
}

// PublishAck is the server reply closing a report stream.
type PublishAck struct {
	Accepted int `json:"accepted"`
}

func NewReportFrame(r model.NodeReport, at time.Time) ReportFrame {
	return ReportFrame{
		NodeID:        r.Record.Identity.Instance,
		Name:          r.Record.Identity.Name,
		TimestampUnix: at.UTC().Unix(),
		Path:          r.Path,
		Text:          r.Text,
		Record:        r.Record,
	}
}

func NewEnvelope(r model.NodeReport, at time.Time) model.Envelope {
	frame := NewReportFrame(r, at)
	return model.Envelope{Type: model.MetricTypeNodeReport, NodeID: frame.NodeID, TimestampUnix: frame.TimestampUnix, Payload: frame}
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, []model.NodeReport) error { return nil }
func (nopSink) Close(context.Context) error                       { return nil }
