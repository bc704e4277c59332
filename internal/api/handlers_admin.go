package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"fair/internal/manager"
	"fair/internal/model"
)

type BadgesResponse struct {
	Unread          int  `json:"unread"`
	SupportReplies  int  `json:"support_replies"`
	PendingRequests *int `json:"pending_requests,omitempty"`
	NewTickets      *int `json:"new_tickets,omitempty"`
}

type StatsResponse struct {
	Requests        map[model.Kind]model.StatusCounts `json:"requests"`
	PendingRequests int                               `json:"pending_requests"`
	NewTickets      int                               `json:"new_tickets"`
}

type ConcurrencyConfig struct {
	Workers int `json:"workers"`
}

// @Summary Header badges
// @Description Computed on every call. Admins also get the moderation counters.
// @Tags Users
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} BadgesResponse
// @Router /badges [get]
func (a *API) Badges(w http.ResponseWriter, r *http.Request) {
	me := caller(r)
	var (
		resp BadgesResponse
		err  error
	)
	if resp.Unread, err = a.Chat.TotalUnread(r.Context(), me.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	if resp.SupportReplies, err = a.Support.UnreadReplies(r.Context(), me.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	if me.Role == model.RoleAdmin {
		pending, tickets, err := a.adminCounters(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.PendingRequests = &pending
		resp.NewTickets = &tickets
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) adminCounters(r *http.Request) (pending, tickets int, err error) {
	if pending, err = a.Moderation.PendingTotal(r.Context()); err != nil {
		return 0, 0, err
	}
	if tickets, err = a.Support.NewCount(r.Context()); err != nil {
		return 0, 0, err
	}
	return pending, tickets, nil
}

// @Summary Moderation statistics
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} StatsResponse
// @Router /admin/stats [get]
func (a *API) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Moderation.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := StatsResponse{Requests: stats}
	for _, c := range stats {
		resp.PendingRequests += c.Pending
	}
	if resp.NewTickets, err = a.Support.NewCount(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// @Summary Recent audit events
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Param limit query int false "At most this many events (default 50)"
// @Success 200 {array} model.AuditEvent
// @Router /admin/audit [get]
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, r, &model.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := a.Storage.ListAudit(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// @Summary Resize the audit worker pool
// @Tags Admin
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param body body ConcurrencyConfig true "Concurrency config"
// @Success 200 {object} ConcurrencyConfig
// @Router /admin/audit/workers [put]
func (a *API) UpdateAuditWorkers(w http.ResponseWriter, r *http.Request) {
	if a.Audit == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{"audit pipeline is disabled"})
		return
	}
	var body ConcurrencyConfig
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.Audit.SetWorkerCount(body.Workers); err != nil {
		if errors.Is(err, manager.ErrNotRunning) {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{err.Error()})
			return
		}
		writeError(w, r, err)
		return
	}
	zap.L().Info("audit workers resized", zap.Int("workers", body.Workers))
	writeJSON(w, http.StatusOK, ConcurrencyConfig{Workers: a.Audit.WorkerCount()})
}
