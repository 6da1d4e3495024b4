package statsd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter periodically scrapes a JSONServer's counters over
// loopback and republishes them as Prometheus gauges, for a deployment
// that wants metrics without a direct Stats reference (e.g. a separate
// stcl-host process monitoring a fleet of stcl-node daemons).
type PrometheusExporter struct {
	registry   *prometheus.Registry
	scrapeURL  string
	interval   time.Duration
	listenAddr string
}

// NewPrometheusExporter returns an exporter that scrapes scrapeURL
// (a JSONServer endpoint) every interval and serves gauges on
// listenAddr's /metrics.
func NewPrometheusExporter(listenAddr, scrapeURL string, interval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		scrapeURL:  scrapeURL,
		interval:   interval,
		listenAddr: listenAddr,
	}
}

// Serve starts the scrape loop and the /metrics HTTP listener, blocking
// until ctx is cancelled.
func (e *PrometheusExporter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.scrapeMetrics()
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	srv := &http.Server{Addr: e.listenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("statsd: prometheus exporter: %w", err)
		}
		return nil
	}
}

func (e *PrometheusExporter) scrapeMetrics() {
	counters, err := FetchCounters(e.scrapeURL)
	if err != nil {
		log.WithError(err).Warn("statsd: failed to scrape counters")
		return
	}
	for key, val := range counters {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: flattenKey(key), Help: key})
		collector, err := e.registerOrReuse(key, g)
		if err != nil {
			log.WithError(err).WithField("counter", key).Error("statsd: failed to register metric")
			continue
		}
		collector.Set(float64(val))
	}
}

func (e *PrometheusExporter) registerOrReuse(key string, g prometheus.Gauge) (prometheus.Gauge, error) {
	if err := e.registry.Register(g); err != nil {
		are := &prometheus.AlreadyRegisteredError{}
		if errors.As(err, are) {
			return are.ExistingCollector.(prometheus.Gauge), nil
		}
		return nil, err
	}
	return g, nil
}

func flattenKey(key string) string {
	replacer := strings.NewReplacer(" ", "_", ".", "_", "-", "_", "=", "_", "/", "_")
	return replacer.Replace(key)
}
