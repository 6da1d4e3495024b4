package statsd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// JSONServer exposes a Stats snapshot as JSON over HTTP, the same shape
// a PrometheusExporter scrapes to republish as gauges.
type JSONServer struct {
	*Stats
	srv *http.Server
}

// NewJSONServer wraps stats with an HTTP handler ready for Serve.
func NewJSONServer(stats *Stats) *JSONServer {
	return &JSONServer{Stats: stats}
}

// Serve starts the HTTP listener on addr (":<port>") and blocks until
// ctx is cancelled, at which point it shuts the server down gracefully.
func (s *JSONServer) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	s.srv = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("statsd: json server: %w", err)
		}
		return nil
	}
}

func (s *JSONServer) handleRequest(w http.ResponseWriter, _ *http.Request) {
	js, err := json.Marshal(s.Get())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		log.WithError(err).Error("statsd: failed writing json stats response")
	}
}

// FetchCounters retrieves and decodes a JSONServer's counters from a
// running instance, used by PrometheusExporter to scrape over loopback
// rather than sharing memory directly with the process it monitors.
func FetchCounters(url string) (map[string]int64, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("statsd: fetch counters: %w", err)
	}
	defer resp.Body.Close()

	var out map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("statsd: decode counters: %w", err)
	}
	return out, nil
}
