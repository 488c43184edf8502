// Package metrics builds the process-wide tally root scope every other
// package's metrics.NewMetrics(scope) constructor hangs its counters,
// gauges, and histograms off of.
//
// It is grounded on common/metrics/config.go's idea of falling back through
// Prometheus, then statsd, then a noop statsd client so the rest of the
// codebase never has to special-case "metrics disabled," adapted here into
// one constructor per backend instead of a single enable-checking branch.
package metrics

import (
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	tallyprom "github.com/uber-go/tally/prometheus"
	tallystatsd "github.com/uber-go/tally/statsd"
)

// Config selects which metrics backend to report to.
type Config struct {
	Prometheus *PrometheusConfig `yaml:"prometheus"`
	Statsd     *StatsdConfig     `yaml:"statsd"`
}

// PrometheusConfig enables exposing a /metrics scrape endpoint.
type PrometheusConfig struct {
	Enable bool `yaml:"enable"`
}

// StatsdConfig enables pushing metrics to a statsd endpoint.
type StatsdConfig struct {
	Enable   bool   `yaml:"enable"`
	Endpoint string `yaml:"endpoint"`
}

// backend bundles everything one reporter choice contributes to the root
// scope: the tally reporter itself (either the plain or cached flavor,
// depending on which one the backend's client library implements), the
// name separator it requires, an optional scrape handler to mount, and an
// optional override for the root scope name (Prometheus scope names cannot
// contain "-").
type backend struct {
	reporter       tally.StatsReporter
	cachedReporter tally.CachedStatsReporter
	separator      string
	handler        nethttp.Handler
	nameOverride   string
}

// prometheusBackend builds a backend reporting through Prometheus, if cfg
// enables it.
func prometheusBackend(cfg *PrometheusConfig, rootName string) (backend, bool) {
	if cfg == nil || !cfg.Enable {
		return backend{}, false
	}
	reporter := tallyprom.NewReporter(tallyprom.Options{})
	return backend{
		cachedReporter: reporter,
		separator:      "_",
		handler:        reporter.HTTPHandler(),
		nameOverride:   strings.Replace(rootName, "-", "_", -1),
	}, true
}

// statsdBackend builds a backend reporting to a statsd endpoint, if cfg
// enables it. A client construction failure is fatal: a misconfigured
// statsd endpoint should stop the process rather than silently drop every
// metric.
func statsdBackend(cfg *StatsdConfig) (backend, bool) {
	if cfg == nil || !cfg.Enable {
		return backend{}, false
	}
	log.WithField("endpoint", cfg.Endpoint).Info("metrics: reporting to statsd")
	client, err := statsd.NewClient(cfg.Endpoint, "")
	if err != nil {
		log.WithError(err).Fatal("metrics: unable to construct statsd client")
	}
	return backend{reporter: tallystatsd.NewReporter(client, tallystatsd.Options{}), separator: "."}, true
}

// noopBackend discards every metric. It is the fallback when neither
// Prometheus nor statsd is configured.
func noopBackend() backend {
	log.Warn("metrics: no backend configured, using a noop statsd client")
	client, _ := statsd.NewNoopClient()
	return backend{reporter: tallystatsd.NewReporter(client, tallystatsd.Options{}), separator: "."}
}

// selectBackend picks the first enabled backend in priority order
// (Prometheus, then statsd), falling back to noopBackend.
func selectBackend(cfg Config, rootName string) backend {
	if b, ok := prometheusBackend(cfg.Prometheus, rootName); ok {
		return b
	}
	if b, ok := statsdBackend(cfg.Statsd); ok {
		return b
	}
	return noopBackend()
}

// InitRootScope builds the root tally.Scope for rootName, and the mux any
// HTTP-exposed metrics/health endpoints attach to. Callers must Close the
// returned io.Closer on shutdown to flush pending metrics.
func InitRootScope(cfg Config, rootName string, flushInterval time.Duration) (tally.Scope, io.Closer, *nethttp.ServeMux) {
	b := selectBackend(cfg, rootName)
	if b.nameOverride != "" {
		rootName = b.nameOverride
	}

	mux := nethttp.NewServeMux()
	if b.handler != nil {
		mux.Handle("/metrics", b.handler)
	}
	mux.HandleFunc("/health", healthHandler)

	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         rootName,
		Tags:           map[string]string{},
		Reporter:       b.reporter,
		CachedReporter: b.cachedReporter,
		Separator:      b.separator,
	}, flushInterval)
	return scope, closer, mux
}

func healthHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	w.WriteHeader(nethttp.StatusOK)
	fmt.Fprintln(w, "OK")
}
