// Package metrics owns the Prometheus registry the server exposes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BuildInfo labels the wfs_server_info gauge.
type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	Build BuildInfo
	// Backend is the store kind serving features (memory, postgis, duckdb).
	Backend string
	// FeatureTypes is the number of types published by the catalog.
	FeatureTypes int
}

type Provider struct {
	reg *prometheus.Registry
}

func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wfs_server_info",
		Help: "Build and backend of the running server, value is always 1.",
	}, []string{"version", "revision", "branch", "build_date", "backend"})
	types := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wfs_catalog_feature_types",
		Help: "Feature types published by the catalog.",
	})
	reg.MustRegister(info, types)

	b := cfg.Build
	if b.Version == "" {
		b.Version = "dev"
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}
	info.WithLabelValues(b.Version, b.Revision, b.Branch, b.BuildDate, backend).Set(1)
	types.Set(float64(cfg.FeatureTypes))

	return &Provider{reg: reg}
}

// Handler serves the registry in the text exposition format. Collector
// errors are reported in the body rather than failing the scrape.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	p.reg.MustRegister(cs...)
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

func (p *Provider) Gatherer() prometheus.Gatherer { return p.reg }
