// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/provider"
)

// entityResponse is the wire shape of an operation outcome.
type entityResponse struct {
	Value    interface{} `json:"value,omitempty"`
	Message  string      `json:"message,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
	IsError  bool        `json:"isError"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encoding failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, entityResponse{IsError: true, Message: msg})
}

// statusFor maps an operation failure to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoProviderAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func respondResult[T any](s *Server, w http.ResponseWriter, res *core.Result[T]) {
	if res.IsError {
		s.respondJSON(w, statusFor(res.Err), entityResponse{
			IsError: true,
			Message: res.Message,
		})
		return
	}
	s.respondJSON(w, http.StatusOK, entityResponse{
		Value:    res.Value,
		Message:  res.Message,
		Warnings: res.Warnings,
	})
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (s *Server) handleSaveAvatar(w http.ResponseWriter, r *http.Request) {
	var avatar core.Avatar
	if err := json.NewDecoder(r.Body).Decode(&avatar); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed avatar payload")
		return
	}
	respondResult(s, w, s.dispatcher.SaveAvatar(r.Context(), &avatar))
}

func (s *Server) handleLoadAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed entity id")
		return
	}
	respondResult(s, w, s.dispatcher.LoadAvatar(r.Context(), id))
}

func (s *Server) handleDeleteAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed entity id")
		return
	}
	soft := r.URL.Query().Get("soft") != "false"
	respondResult(s, w, s.dispatcher.DeleteAvatar(r.Context(), id, soft))
}

func (s *Server) handleSaveHolon(w http.ResponseWriter, r *http.Request) {
	var holon core.Holon
	if err := json.NewDecoder(r.Body).Decode(&holon); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed holon payload")
		return
	}
	respondResult(s, w, s.dispatcher.SaveHolon(r.Context(), &holon))
}

func (s *Server) handleLoadHolon(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed entity id")
		return
	}
	respondResult(s, w, s.dispatcher.LoadHolon(r.Context(), id))
}

func (s *Server) handleDeleteHolon(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed entity id")
		return
	}
	soft := r.URL.Query().Get("soft") != "false"
	respondResult(s, w, s.dispatcher.DeleteHolon(r.Context(), id, soft))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := core.SearchQuery{
		Text:      r.URL.Query().Get("q"),
		Kind:      core.Kind(r.URL.Query().Get("kind")),
		MetaKey:   r.URL.Query().Get("metaKey"),
		MetaValue: r.URL.Query().Get("metaValue"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.respondError(w, http.StatusBadRequest, "malformed limit")
			return
		}
		q.Limit = limit
	}
	respondResult(s, w, s.dispatcher.Search(r.Context(), q))
}

// providerView is the wire shape of one registry entry.
type providerView struct {
	Type                string  `json:"type"`
	Health              string  `json:"health"`
	Score               float64 `json:"score"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	CostPerOp           float64 `json:"costPerOp"`
	GasFee              float64 `json:"gasFee"`
	LatencyMS           float64 `json:"latencyMs"`
	SuccessRatio        float64 `json:"successRatio"`
	Current             bool    `json:"current"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	current, hasCurrent := s.registry.Current()

	views := make([]providerView, 0)
	for _, d := range s.registry.Snapshot() {
		views = append(views, providerView{
			Type:                d.Type.String(),
			Health:              d.Health.String(),
			Score:               d.Score,
			ConsecutiveFailures: d.ConsecutiveFailures,
			CostPerOp:           d.Signals.CostPerOp,
			GasFee:              d.Signals.GasFee,
			LatencyMS:           d.Signals.LatencyMS,
			SuccessRatio:        d.Signals.SuccessRatio,
			Current:             hasCurrent && d.Type == current.Type,
		})
	}
	s.respondJSON(w, http.StatusOK, views)
}

// handleInspectConfig exposes the routing-relevant slice of the active
// config: selection weights and the replication and failover rule trees.
// Server settings and provider credentials stay private.
func (s *Server) handleInspectConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.store.Current()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"generation":  s.store.Generation(),
		"selection":   cfg.Selection,
		"replication": cfg.Replication,
		"failover":    cfg.Failover,
	})
}

func parseProviderType(r *http.Request) (provider.Type, error) {
	return provider.ParseType(chi.URLParam(r, "type"))
}

func (s *Server) handleActivateProvider(w http.ResponseWriter, r *http.Request) {
	t, err := parseProviderType(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondResult(s, w, s.registry.Activate(r.Context(), t))
}

func (s *Server) handleDeactivateProvider(w http.ResponseWriter, r *http.Request) {
	t, err := parseProviderType(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondResult(s, w, s.registry.Deactivate(r.Context(), t))
}

func (s *Server) handleSetCurrent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	t, err := provider.ParseType(body.Provider)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.registry.SetCurrent(t); err != nil {
		status := http.StatusConflict
		if errors.Is(err, core.ErrNoProviderAvailable) {
			status = http.StatusNotFound
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"current": t.String()})
}
