// Package metrics exposes the engine's runtime state as Prometheus
// collectors: tone queue depth, dispatcher state, AGC peak, and decoded
// character throughput. It is ambient and additive — nothing in the
// engine depends on a listener actually being started.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the engine updates. A nil *Registry is
// valid and every method on it is a no-op, so callers that never start a
// listener (metrics_addr == "") can still pass it around unconditionally.
type Registry struct {
	queueDepth       prometheus.Gauge
	queueLowWater    prometheus.Gauge
	dispatcherActive prometheus.Gauge
	agcPeak          prometheus.Gauge
	charactersTotal  *prometheus.CounterVec
	wordsTotal       prometheus.Counter
	errChars         *prometheus.CounterVec

	server *http.Server
}

// New registers a fresh set of collectors. Call it once per process;
// a second call panics (promauto registers against the default registry),
// matching the teacher's own assumption that metrics are process-scoped.
func New() *Registry {
	return &Registry{
		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cwengine_toneq_depth",
			Help: "Current number of queued tones awaiting dispatch.",
		}),
		queueLowWater: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cwengine_toneq_low_water",
			Help: "Configured low-water mark for the tone queue.",
		}),
		dispatcherActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cwengine_dispatcher_active",
			Help: "1 if the dispatcher currently has a tone in flight, else 0.",
		}),
		agcPeak: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cwengine_agc_peak",
			Help: "Current AGC peak estimate from the tone detector.",
		}),
		charactersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cwengine_characters_decoded_total",
			Help: "Total characters decoded, by outcome (ok, err_char, err_word).",
		}, []string{"outcome"}),
		wordsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cwengine_words_decoded_total",
			Help: "Total words (end-of-word boundaries) decoded.",
		}),
		errChars: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cwengine_receiver_errors_total",
			Help: "Receiver classification errors, by cwerr.Kind.",
		}, []string{"kind"}),
	}
}

// SetQueueDepth records the tone queue's current depth and configured
// low-water mark.
func (r *Registry) SetQueueDepth(depth, lowWater int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(depth))
	r.queueLowWater.Set(float64(lowWater))
}

// SetDispatcherActive records whether the dispatcher has a tone in flight.
func (r *Registry) SetDispatcherActive(active bool) {
	if r == nil {
		return
	}
	if active {
		r.dispatcherActive.Set(1)
	} else {
		r.dispatcherActive.Set(0)
	}
}

// SetAGCPeak records the detector's current AGC peak estimate.
func (r *Registry) SetAGCPeak(peak float64) {
	if r == nil {
		return
	}
	r.agcPeak.Set(peak)
}

// RecordCharacter increments the decoded-character counter for the given
// outcome label ("ok", "err_char", or "err_word").
func (r *Registry) RecordCharacter(outcome string) {
	if r == nil {
		return
	}
	r.charactersTotal.WithLabelValues(outcome).Inc()
}

// RecordWord increments the decoded-word counter.
func (r *Registry) RecordWord() {
	if r == nil {
		return
	}
	r.wordsTotal.Inc()
}

// RecordReceiverError increments the receiver-error counter for a cwerr
// kind name (e.g. "ignored", "no_memory", "not_found").
func (r *Registry) RecordReceiverError(kind string) {
	if r == nil {
		return
	}
	r.errChars.WithLabelValues(kind).Inc()
}

// Serve starts a background HTTP listener exposing /metrics on addr. An
// empty addr is a no-op, matching the config surface's "" = disabled
// convention. The listener is torn down when ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	if r == nil || addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	r.server = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
		close(errCh)
	}()

	go func() {
		<-ctx.Done()
		_ = r.server.Close()
	}()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
