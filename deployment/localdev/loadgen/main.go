// Command loadgen posts synthetic log batches to a running sentinel engine.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

type weighted struct {
	severity string
	weight   float64
}

// Normal traffic mix.
var normalMix = []weighted{
	{"INFO", 0.80},
	{"WARN", 0.12},
	{"ERROR", 0.05},
	{"CRITICAL", 0.03},
}

// Burst traffic skews toward failures.
var burstMix = []weighted{
	{"INFO", 0.35},
	{"WARN", 0.15},
	{"ERROR", 0.35},
	{"CRITICAL", 0.15},
}

var messages = map[string][]string{
	"INFO":     {"request served", "cache hit", "user login succeeded", "job completed"},
	"WARN":     {"slow upstream response", "retrying request", "connection pool near capacity"},
	"ERROR":    {"upstream returned 502", "database query timed out", "token validation failed"},
	"CRITICAL": {"database connection lost", "disk full", "out of memory"},
}

func main() {
	var (
		target   = flag.String("target", "http://localhost:2113", "Engine HTTP address")
		services = flag.String("services", "auth,payments,catalog", "Comma separated service names")
		rps      = flag.Float64("rate", 50, "Logs per second across all services")
		batch    = flag.Int("batch", 25, "Logs per request")
		burstSvc = flag.String("burst-service", "", "Service that receives burst traffic")
		burstAt  = flag.Duration("burst-after", 2*time.Minute, "Delay before the burst starts")
		burstFor = flag.Duration("burst-for", 30*time.Second, "Burst duration")
		burstMul = flag.Float64("burst-multiplier", 4, "Volume multiplier during the burst")
		duration = flag.Duration("duration", 0, "Stop after this long; 0 runs until interrupted")
		seed     = flag.Uint64("seed", 0, "Random seed; 0 seeds from the clock")
	)
	flag.Parse()

	logger := utils.NewLogger(utils.LogOptions{Level: "info"})
	names := strings.Split(*services, ",")
	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(*seed, *seed>>1))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	limiter := rate.NewLimiter(rate.Limit(*rps), *batch)
	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := strings.TrimRight(*target, "/") + "/api/v1/logs"
	start := time.Now()

	var sent, rejected int
	for ctx.Err() == nil {
		elapsed := time.Since(start)
		bursting := *burstSvc != "" && elapsed >= *burstAt && elapsed < *burstAt+*burstFor

		records := make([]ingest.Record, 0, *batch)
		for len(records) < *batch {
			svc := strings.TrimSpace(names[rng.IntN(len(names))])
			mix := normalMix
			if bursting && svc == *burstSvc {
				mix = burstMix
			}
			records = append(records, record(rng, svc, mix))
			if bursting && rng.Float64() < (*burstMul-1) / *burstMul {
				records = append(records, record(rng, *burstSvc, burstMix))
			}
		}
		if err := limiter.WaitN(ctx, min(len(records), *batch)); err != nil {
			break
		}

		res, err := post(ctx, client, endpoint, records)
		if err != nil {
			logger.Warn("post failed", slog.Any("error", err))
			continue
		}
		sent += res.Accepted
		rejected += res.Rejected
		if sent%(*batch*40) < *batch {
			logger.Info("progress", slog.Int("accepted", sent), slog.Int("rejected", rejected), slog.Bool("bursting", bursting))
		}
	}
	logger.Info("loadgen stopped", slog.Int("accepted", sent), slog.Int("rejected", rejected))
	if sent == 0 {
		os.Exit(1)
	}
}

func record(rng *rand.Rand, service string, mix []weighted) ingest.Record {
	severity := pick(rng, mix)
	msgs := messages[severity]
	return ingest.Record{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Service:   service,
		Severity:  severity,
		Message:   msgs[rng.IntN(len(msgs))],
		RequestID: fmt.Sprintf("req-%08x", rng.Uint32()),
		Metadata:  map[string]any{"generator": "loadgen"},
	}
}

func pick(rng *rand.Rand, mix []weighted) string {
	r := rng.Float64()
	for _, w := range mix {
		if r < w.weight {
			return w.severity
		}
		r -= w.weight
	}
	return mix[len(mix)-1].severity
}

func post(ctx context.Context, client *http.Client, endpoint string, records []ingest.Record) (ingest.Result, error) {
	var res ingest.Result
	body, err := json.Marshal(ingest.Batch{Logs: records})
	if err != nil {
		return res, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return res, nil
}
