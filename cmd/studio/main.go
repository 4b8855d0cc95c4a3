package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/lmittmann/tint"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/MENT2022/studio"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "query":
		err = queryCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "studio %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to studio configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := studio.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := studio.NewRuntime(ctx, cfg, studio.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("studio starting",
		"config", *cfgPath,
		"api", cfg.API.Addr,
		"metrics", cfg.Metrics.Addr,
		"backend", cfg.Persistence.Backend,
		"auto_connect", cfg.Broker.AutoConnect,
	)
	return rt.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := studio.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good (backend=%s, window=%d, auto_connect=%t)\n",
		*cfgPath, cfg.Persistence.Backend, cfg.Window.Capacity, cfg.Broker.AutoConnect)
	return nil
}

// newLogger builds the process logger: tint for terminals, JSON for collectors.
func newLogger(w io.Writer, cfg studio.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    os.Getenv("NO_COLOR") != "",
	}))
}

var statsTargets = []struct {
	name  string
	label string
}{
	{"studio_connection_status", "status"},
	{"studio_messages_received_total", "messages"},
	{"studio_samples_accepted_total", "accepted"},
	{"studio_payloads_rejected_total", "rejected"},
	{"studio_window_length", "window"},
	{"studio_persist_queue_length", "queue"},
	{"studio_readings_persisted_total", "persisted"},
	{"studio_readings_failed_total", "failed"},
	{"studio_readings_dropped_total", "dropped"},
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	endpoint := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *endpoint)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			values, err := fetchMetrics(ctx, *endpoint)
			if err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
				continue
			}
			fmt.Println(formatStats(time.Now(), values))
		}
	}
}

// fetchMetrics scrapes endpoint and returns the value of every studio metric it knows.
func fetchMetrics(ctx context.Context, endpoint string) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}

	out := make(map[string]float64, len(statsTargets))
	for _, t := range statsTargets {
		mf, ok := families[t.name]
		if !ok || len(mf.GetMetric()) == 0 {
			continue
		}
		out[t.name] = metricValue(mf.GetMetric()[0])
	}
	return out, nil
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	default:
		return 0
	}
}

func formatStats(at time.Time, values map[string]float64) string {
	var b strings.Builder
	b.WriteString("[" + at.Format(time.RFC3339) + "]")
	for _, t := range statsTargets {
		v := values[t.name]
		if t.name == "studio_connection_status" {
			fmt.Fprintf(&b, " %s=%s", t.label, studio.Status(int32(v)))
			continue
		}
		fmt.Fprintf(&b, " %s=%s", t.label, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return b.String()
}

func queryCommand(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	api := fs.String("api", "http://localhost:8080", "Studio API base URL")
	source := fs.String("source", "", "Only readings from this source id")
	from := fs.String("from", "", "Lower bound, RFC 3339")
	to := fs.String("to", "", "Upper bound, RFC 3339")
	limit := fs.Int("limit", 100, "Maximum number of readings, 0 for all")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	samples, err := fetchReadings(ctx, *api, *source, *from, *to, *limit)
	if err != nil {
		return err
	}
	return printSamples(os.Stdout, samples)
}

func fetchReadings(ctx context.Context, base, source, from, to string, limit int) ([]studio.Sample, error) {
	v := url.Values{}
	if source != "" {
		v.Set("source", source)
	}
	if from != "" {
		v.Set("from", from)
	}
	if to != "" {
		v.Set("to", to)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	target := strings.TrimRight(base, "/") + "/api/readings"
	if len(v) > 0 {
		target += "?" + v.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return nil, fmt.Errorf("query readings: %s", e.Error)
	}

	var body struct {
		Samples []studio.Sample `json:"samples"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode readings: %w", err)
	}
	return body.Samples, nil
}

func printSamples(w io.Writer, samples []studio.Sample) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CAPTURED_AT\tSOURCE\tFIELDS")
	for _, s := range samples {
		parts := make([]string, 0, len(s.Fields))
		for _, f := range s.Fields {
			parts = append(parts, f.Name+"="+strconv.FormatFloat(f.Value, 'g', -1, 64))
		}
		src := s.SourceID
		if src == "" {
			src = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.CapturedAt.Format(time.RFC3339Nano), src, strings.Join(parts, " "))
	}
	fmt.Fprintf(tw, "\n%d readings\n", len(samples))
	return tw.Flush()
}

func printUsage() {
	fmt.Printf(`studio CLI

Usage:
  studio <command> [flags]

Commands:
  run        Start the ingestion runtime using the provided config
  validate   Load and validate a config file without starting the runtime
  stats      Poll the Prometheus metrics endpoint and print live counters
  query      Fetch persisted readings through the HTTP API

Examples:
  studio run -config ./data/config.yaml
  studio validate -config ./data/config.yaml
  studio stats -url http://localhost:9100/metrics -interval 1s
  studio query -api http://localhost:8080 -source D1 -from 2024-05-01T00:00:00Z
`)
}
