// Package httpapi exposes the small operational surface (§4.14): health and
// stats endpoints, and the broadcast surface's SSE stream mounted alongside.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sysgrow/sensorcore/internal/arbitrator"
	"github.com/sysgrow/sensorcore/internal/broadcast"
	"github.com/sysgrow/sensorcore/internal/ingest/polling"
	"github.com/sysgrow/sensorcore/internal/registry"
)

// RegisterHandlers wires /health, /stats, and the broadcast surface's SSE
// stream onto router.
func RegisterHandlers(log zerolog.Logger, router *chi.Mux, reg *registry.Registry, arb *arbitrator.Arbitrator, poller *polling.Engine, bc broadcast.Broadcaster) *chi.Mux {
	router.Get("/health", healthHandler())
	router.Get("/stats", statsHandler(log, reg, arb, poller))
	router.Handle("/events/*", bc.Server())

	return router
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

type statsResponse struct {
	SensorCount   int                 `json:"sensor_count"`
	WiredCount    int                 `json:"wired_count"`
	Arbitrator    arbitrator.Stats    `json:"arbitrator"`
	WiredSensors  []polling.Snapshot  `json:"wired_sensors,omitempty"`
}

func statsHandler(log zerolog.Logger, reg *registry.Registry, arb *arbitrator.Arbitrator, poller *polling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statsResponse{
			SensorCount: len(reg.All()),
			WiredCount:  len(reg.Wired()),
			Arbitrator:  arb.GetStats(),
		}
		if poller != nil {
			resp.WiredSensors = poller.Status()
		}

		body, err := json.Marshal(resp)
		if err != nil {
			log.Error().Err(err).Msg("unable to marshal stats response")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}
