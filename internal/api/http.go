package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const maxBodyBytes = 8 << 20

// HTTPOptions wires the JSON API.
type HTTPOptions struct {
	Source   SnapshotSource
	Ingestor *ingest.Ingestor
	// Gatherer backs /metrics; nil skips the route.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type httpAPI struct {
	source   SnapshotSource
	ingestor *ingest.Ingestor
	logger   *slog.Logger
}

// NewHTTPHandler returns the dashboard and ingestion routes plus /healthz and /metrics.
func NewHTTPHandler(opts HTTPOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &httpAPI{source: opts.Source, ingestor: opts.Ingestor, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /api/v1/snapshot", h.snapshot)
	mux.HandleFunc("GET /api/v1/services/{service}", h.service)
	mux.HandleFunc("GET /api/v1/alerts", h.alerts)
	mux.HandleFunc("POST /api/v1/logs", h.ingestBatch)
	mux.HandleFunc("POST /api/v1/log", h.ingestOne)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (h *httpAPI) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *httpAPI) snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Snapshot())
}

func (h *httpAPI) service(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")
	snap, ok := h.source.Service(name)
	if !ok {
		writeError(w, http.StatusNotFound, "service "+strconv.Quote(name)+" not seen")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *httpAPI) alerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}
	writeJSON(w, http.StatusOK, AlertList{Alerts: h.source.Alerts(limit)})
}

func (h *httpAPI) ingestBatch(w http.ResponseWriter, r *http.Request) {
	records, err := h.ingestor.DecodeBatch(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.respondIngest(w, h.ingestor.Ingest(records))
}

func (h *httpAPI) ingestOne(w http.ResponseWriter, r *http.Request) {
	rec, err := ingest.DecodeRecord(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.respondIngest(w, h.ingestor.Ingest([]ingest.Record{rec}))
}

// respondIngest answers 202 when anything was accepted, 400 when every record was rejected.
func (h *httpAPI) respondIngest(w http.ResponseWriter, res ingest.Result) {
	code := http.StatusAccepted
	if res.Accepted == 0 && res.Rejected > 0 {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, res)
}

func statusFor(err error) int {
	if errors.Is(err, utils.ErrDataQuality) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
