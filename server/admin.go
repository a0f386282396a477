package server

import (
	"net/http"

	"github.com/AlessioChianetta/Coachale-sub034/lease"
	"github.com/AlessioChianetta/Coachale-sub034/version"
)

// lockView is a lease plus whether it still excludes other holders.
type lockView struct {
	lease.Lock
	Live bool `json:"live"`
}

type healthResponse struct {
	Status             string        `json:"status"`
	State              string        `json:"state"`
	Version            string        `json:"version"`
	Commit             string        `json:"commit"`
	ProviderConfigured bool          `json:"provider_configured"`
	ProviderError      string        `json:"provider_error,omitempty"`
	LastReconcile      *tickSnapshot `json:"last_reconcile,omitempty"`
}

type tickSnapshot struct {
	Checked      int   `json:"checked"`
	Transitioned int   `json:"transitioned"`
	Failed       int   `json:"failed"`
	Skipped      bool  `json:"skipped"`
	DurationMS   int64 `json:"duration_ms"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation poller is not running in this process")
		return
	}
	res, err := s.deps.Poller.Tick(r.Context())
	if err != nil {
		writeWrappedError(w, s.logger, err, "manual reconcile")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leases == nil {
		writeError(w, http.StatusServiceUnavailable, "no lease backend configured")
		return
	}
	locks, err := s.deps.Leases.Locks(r.Context())
	if err != nil {
		writeWrappedError(w, s.logger, err, "list locks")
		return
	}
	now := s.deps.Leases.Now()
	views := make([]lockView, 0, len(locks))
	for _, l := range locks {
		views = append(views, lockView{Lock: l, Live: l.Live(now)})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleInvalidateCredentials(w http.ResponseWriter, r *http.Request) {
	creds := s.credentials()
	if creds == nil {
		writeError(w, http.StatusServiceUnavailable, "provider client has no credentials cache")
		return
	}
	creds.Invalidate()
	s.logger.Infow("Provider credentials invalidated")
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	resp := healthResponse{
		Status:  "ok",
		State:   s.State().String(),
		Version: info.Version,
		Commit:  info.Short(),
	}
	if creds := s.credentials(); creds != nil {
		ok, err := creds.Configured(r.Context())
		resp.ProviderConfigured = ok
		if err != nil {
			resp.ProviderError = err.Error()
		}
	}
	if s.deps.Poller != nil {
		if last := s.deps.Poller.LastResult(); last.Duration > 0 || last.Checked > 0 || last.Skipped {
			resp.LastReconcile = &tickSnapshot{
				Checked:      last.Checked,
				Transitioned: last.Transitioned,
				Failed:       last.Failed,
				Skipped:      last.Skipped,
				DurationMS:   last.Duration.Milliseconds(),
			}
		}
	}

	status := http.StatusOK
	if s.State() == StateDraining {
		resp.Status = "draining"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
