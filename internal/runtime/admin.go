package runtime

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/transitboard/internal/runtime/jsoncodec"
)

func (s *Service) registerMetrics() error {
	if !s.Conf.MetricsEnabled {
		return nil
	}
	if err := s.registerer.Register(s.recordsTotal); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return err
		}
		s.recordsTotal = existing
	}
	return nil
}

// registerAdminHandlers mounts /metrics and /api/bindings on the admin port.
// The status listener keeps serving GET / only.
func (s *Service) registerAdminHandlers() {
	port := s.Conf.MetricsPort
	if port <= 0 {
		return
	}
	if s.Conf.MetricsEnabled {
		s.RegisterHTTPHandler(port, "/metrics", s.metricsHandler())
	}
	if s.Conf.WebUIEnabled {
		s.RegisterHTTPHandler(port, "/api/bindings", http.HandlerFunc(s.handleGetBindings))
	}
}

func (s *Service) metricsHandler() http.Handler {
	if gatherer, ok := s.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

type adminStatus struct {
	State    string        `json:"state"`
	Bindings []BindingInfo `json:"bindings"`
	Load     BoardLoad     `json:"load"`
}

func (s *Service) handleGetBindings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	bindings := s.Bindings()
	status := adminStatus{
		State:    s.State().String(),
		Bindings: make([]BindingInfo, 0, len(bindings)),
		Load:     s.loadSampler.Sample(bindings),
	}
	for _, b := range bindings {
		status.Bindings = append(status.Bindings, b.Info())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, status); err != nil {
		s.Logger.Error("Failed to encode bindings", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
