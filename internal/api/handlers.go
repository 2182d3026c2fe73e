package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// SnapshotSource is the read side exposed to dashboards.
type SnapshotSource interface {
	Snapshot() models.Snapshot
	Service(name string) (models.ServiceSnapshot, bool)
	Alerts(limit int) []models.Alert
}

// ToStruct converts any JSON-encodable object into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("to struct: %w", err)
	}
	return out, nil
}

// FromStruct decodes a Struct into out through its JSON form.
func FromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return fmt.Errorf("request is nil")
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("from struct: %w", err)
	}
	return json.Unmarshal(data, out)
}

// AlertList is the reply of ListAlerts and GET /api/v1/alerts.
type AlertList struct {
	Alerts []models.Alert `json:"alerts"`
}

// RecordsFromStruct accepts either a batch {"logs": [...]} or a single record.
func RecordsFromStruct(s *structpb.Struct) ([]ingest.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("request is nil")
	}
	if _, ok := s.GetFields()["logs"]; ok {
		var batch ingest.Batch
		if err := FromStruct(s, &batch); err != nil {
			return nil, fmt.Errorf("invalid batch: %w", err)
		}
		return batch.Logs, nil
	}
	var rec ingest.Record
	if err := FromStruct(s, &rec); err != nil {
		return nil, fmt.Errorf("invalid log: %w", err)
	}
	return []ingest.Record{rec}, nil
}

// StringField returns a string field of s, or "".
func StringField(s *structpb.Struct, name string) string {
	if v, ok := s.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

// IntField returns a numeric field of s truncated to int, or def.
func IntField(s *structpb.Struct, name string, def int) int {
	if v, ok := s.GetFields()[name]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			return int(v.GetNumberValue())
		}
	}
	return def
}
