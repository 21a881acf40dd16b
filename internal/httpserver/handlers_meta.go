package httpserver

import (
	"net/http"
	"time"
)

// healthResponse reports liveness and how long this process has been up.
type healthResponse struct {
	Status string        `json:"status"`
	Uptime time.Duration `json:"uptimeSeconds"`
}

func (h handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Duration(time.Since(serverStartTime).Seconds()),
	})
}

// versionResponse identifies this facilitator deployment for operators and
// peer facilitators crawling /.well-known/x402.
type versionResponse struct {
	Service     string `json:"service"`
	Environment string `json:"environment"`
}

func (h handlers) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{
		Service:     "x402-facilitator",
		Environment: h.cfg.Logging.Environment,
	})
}

// wellKnownResponse is the discovery document peer facilitators and clients
// fetch to learn this facilitator's public URL and accepted payment kinds.
type wellKnownResponse struct {
	FacilitatorURL string `json:"facilitatorUrl"`
	Kinds          any    `json:"supported"`
}

func (h handlers) wellKnown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wellKnownResponse{
		FacilitatorURL: h.cfg.Server.FacilitatorURL,
		Kinds:          h.dispatcher.Supported(),
	})
}
