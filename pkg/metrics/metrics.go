// Package metrics exposes controller counters and the traffic monitor's
// estimate as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newtron-network/newtslice/pkg/adaptive"
	"github.com/newtron-network/newtslice/pkg/util"
)

// Metrics holds the controller's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	packetIns   *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	sendErrors  *prometheus.CounterVec
	fdbEntries  prometheus.Gauge
	videoMbps   prometheus.Gauge
	allowUpper  prometheus.Gauge
	decideDelay prometheus.Histogram
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		packetIns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newtslice_packet_in_total",
				Help: "Packet-in events by switch and traffic class",
			},
			[]string{
				"dpid",
				"class",
			}),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newtslice_decisions_total",
				Help: "Policy decisions by policy and verdict",
			},
			[]string{
				"policy",
				"verdict",
			}),
		sendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newtslice_send_errors_total",
				Help: "Control channel messages that could not be handed off",
			},
			[]string{
				"dpid",
				"message",
			}),
		fdbEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newtslice_fdb_entries",
			Help: "Learned MAC addresses across all switches",
		}),
		videoMbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newtslice_video_mbps",
			Help: "Video throughput measured by the last monitor sample",
		}),
		allowUpper: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newtslice_allow_non_video_upper",
			Help: "1 if non-video traffic may use the primary backbone path",
		}),
		decideDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newtslice_packet_in_seconds",
			Help:    "Time spent handling one packet-in",
			Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3},
		}),
	}
	m.allowUpper.Set(1)

	m.registry.MustRegister(
		m.packetIns,
		m.decisions,
		m.sendErrors,
		m.fdbEntries,
		m.videoMbps,
		m.allowUpper,
		m.decideDelay,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// PacketIn counts one packet-in.
func (m *Metrics) PacketIn(dpid uint64, class string) {
	m.packetIns.WithLabelValues(strconv.FormatUint(dpid, 10), class).Inc()
}

// Decision counts one policy verdict.
func (m *Metrics) Decision(policy, verdict string) {
	m.decisions.WithLabelValues(policy, verdict).Inc()
}

// SendError counts a failed flow-mod or packet-out.
func (m *Metrics) SendError(dpid uint64, message string) {
	m.sendErrors.WithLabelValues(strconv.FormatUint(dpid, 10), message).Inc()
}

// SetFDBEntries records the learning table size.
func (m *Metrics) SetFDBEntries(n int) {
	m.fdbEntries.Set(float64(n))
}

// ObserveLatency records the handling time of one packet-in.
func (m *Metrics) ObserveLatency(d time.Duration) {
	m.decideDelay.Observe(d.Seconds())
}

// ObserveSample implements adaptive.Sink.
func (m *Metrics) ObserveSample(s adaptive.Sample) {
	m.videoMbps.Set(s.VideoMbps)
	if s.AllowNonVideoOnPrimary {
		m.allowUpper.Set(1)
	} else {
		m.allowUpper.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	util.Infof("metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
