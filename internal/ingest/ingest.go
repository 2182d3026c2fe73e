// Package ingest decodes submitted log records and pushes them into the event buffer.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// ReasonMalformed counts records that could not be converted to events.
const ReasonMalformed = "malformed"

// Record is one submitted log line.
type Record struct {
	Timestamp string         `json:"timestamp,omitempty"`
	Service   string         `json:"service"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	SourceIP  string         `json:"source_ip,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Batch is the body of a batch submission.
type Batch struct {
	Logs []Record `json:"logs"`
}

// Sink accepts validated events.
type Sink interface {
	Push(event models.LogEvent) error
}

// Result reports the outcome of one submission.
type Result struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// timestamp layouts accepted in addition to RFC 3339. Zone-less values are UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

const maxReportedErrors = 20

// Ingestor converts records and pushes them into a Sink.
type Ingestor struct {
	sink     Sink
	now      func() time.Time
	maxBatch int
	logger   *slog.Logger
}

// New constructs an Ingestor. maxBatch <= 0 means unbounded.
func New(sink Sink, maxBatch int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{sink: sink, now: time.Now, maxBatch: maxBatch, logger: logger}
}

// DecodeBatch reads a batch body.
func (i *Ingestor) DecodeBatch(r io.Reader) ([]Record, error) {
	var batch Batch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, utils.DataQualityError("ingest.decode", "invalid batch body: "+err.Error())
	}
	if i.maxBatch > 0 && len(batch.Logs) > i.maxBatch {
		return nil, utils.DataQualityError("ingest.decode", fmt.Sprintf("batch of %d exceeds limit %d", len(batch.Logs), i.maxBatch))
	}
	return batch.Logs, nil
}

// DecodeRecord reads a single-record body.
func DecodeRecord(r io.Reader) (Record, error) {
	var rec Record
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return Record{}, utils.DataQualityError("ingest.decode", "invalid log body: "+err.Error())
	}
	return rec, nil
}

// Ingest pushes every record. Rejections are counted and never stop the batch.
func (i *Ingestor) Ingest(records []Record) Result {
	now := i.now()
	var res Result
	for idx, rec := range records {
		ev, err := rec.Event(now)
		if err == nil {
			err = i.sink.Push(ev)
		}
		if err != nil {
			res.Rejected++
			metrics.ObserveIngest(reason(err))
			if len(res.Errors) < maxReportedErrors {
				res.Errors = append(res.Errors, fmt.Sprintf("log %d: %v", idx, err))
			}
			continue
		}
		res.Accepted++
		metrics.ObserveIngest("")
	}
	if res.Rejected > 0 {
		i.logger.Debug("rejected log records", slog.Int("rejected", res.Rejected), slog.Int("accepted", res.Accepted))
	}
	return res
}

// Event converts the record. A missing timestamp takes now.
func (r Record) Event(now time.Time) (models.LogEvent, error) {
	level, err := models.ParseLogLevel(r.Severity)
	if err != nil {
		return models.LogEvent{}, utils.DataQualityError("ingest.record", ReasonMalformed+": "+err.Error())
	}
	ts := now
	if strings.TrimSpace(r.Timestamp) != "" {
		ts, err = parseTimestamp(r.Timestamp)
		if err != nil {
			return models.LogEvent{}, utils.DataQualityError("ingest.record", ReasonMalformed+": "+err.Error())
		}
	}
	return models.LogEvent{
		Service:   strings.TrimSpace(r.Service),
		Level:     level,
		Message:   r.Message,
		Timestamp: ts,
		Metadata:  r.metadata(),
	}, nil
}

func (r Record) metadata() map[string]string {
	out := make(map[string]string, len(r.Metadata)+3)
	for k, v := range r.Metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			if b, err := json.Marshal(val); err == nil {
				out[k] = string(b)
			}
		}
	}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("source_ip", r.SourceIP)
	set("user_id", r.UserID)
	set("request_id", r.RequestID)
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// reason maps a rejection to its discard label.
func reason(err error) string {
	var appErr *utils.AppError
	if errors.As(err, &appErr) && appErr.Op == "buffer.push" {
		return appErr.Msg
	}
	return ReasonMalformed
}
