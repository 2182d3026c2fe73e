package services

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 1000
)

// MonitorService implements the gRPC Monitor service.
type MonitorService struct {
	logger    *slog.Logger
	source    api.SnapshotSource
	ingestor  *ingest.Ingestor
	maxBatch  int
	latencies *utils.LatencyTracker
}

// NewMonitorService constructs the Monitor service facade. maxBatch <= 0 leaves batches unbounded.
func NewMonitorService(logger *slog.Logger, source api.SnapshotSource, ingestor *ingest.Ingestor, maxBatch int) *MonitorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorService{
		logger:    logger,
		source:    source,
		ingestor:  ingestor,
		maxBatch:  maxBatch,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// GetSnapshot returns the system snapshot, or a single service when "service" is set.
func (s *MonitorService) GetSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.source == nil {
		return nil, status.Error(codes.FailedPrecondition, "detection engine not configured")
	}

	var payload any
	if name := api.StringField(req, "service"); name != "" {
		snap, ok := s.source.Service(name)
		if !ok {
			return nil, status.Errorf(codes.NotFound, "service %q not seen", name)
		}
		payload = snap
	} else {
		payload = s.source.Snapshot()
	}

	out, err := api.ToStruct(payload)
	if err != nil {
		s.logger.Error("encode snapshot failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode snapshot")
	}
	return out, nil
}

// ListAlerts returns the most recent emitted alerts, newest first.
func (s *MonitorService) ListAlerts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.source == nil {
		return nil, status.Error(codes.FailedPrecondition, "detection engine not configured")
	}

	limit := api.IntField(req, "limit", defaultAlertLimit)
	if limit <= 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be positive")
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	out, err := api.ToStruct(api.AlertList{Alerts: s.source.Alerts(limit)})
	if err != nil {
		s.logger.Error("encode alerts failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode alerts")
	}
	return out, nil
}

// IngestLogs accepts {"logs": [...]} or a single record.
func (s *MonitorService) IngestLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.ingestor == nil {
		return nil, status.Error(codes.FailedPrecondition, "ingestion not configured")
	}

	records, err := api.RecordsFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.maxBatch > 0 && len(records) > s.maxBatch {
		return nil, status.Errorf(codes.InvalidArgument, "batch of %d exceeds limit %d", len(records), s.maxBatch)
	}

	start := time.Now()
	result := s.ingestor.Ingest(records)
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 100 && count%100 == 0 {
		s.logger.Info("ingest latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	out, err := api.ToStruct(result)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode result")
	}
	return out, nil
}

// IngestP95 returns the current p95 ingest latency.
func (s *MonitorService) IngestP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
