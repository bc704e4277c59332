package api

import (
	"net/http"

	"fair/internal/model"
)

// @Summary Submit a moderation request
// @Tags Requests
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param kind path string true "street, pavilion or ad"
// @Param body body model.Payload true "Kind-specific fields"
// @Success 201 {object} model.Request
// @Router /requests/{kind} [post]
func (a *API) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var payload model.Payload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := a.Moderation.Submit(r.Context(), caller(r).UserID, kind, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// @Summary The caller's own requests
// @Tags Requests
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {array} model.Request
// @Router /requests [get]
func (a *API) MyRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := a.Moderation.List(r.Context(), model.RequestFilter{RequesterID: caller(r).UserID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// @Summary List requests of one kind
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Param kind path string true "street, pavilion or ad"
// @Param status query string false "pending, approved or rejected"
// @Success 200 {array} model.Request
// @Router /admin/requests/{kind} [get]
func (a *API) ListRequests(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := model.RequestFilter{Kind: kind}
	if s := r.URL.Query().Get("status"); s != "" {
		if f.Status, err = model.ParseStatus(s); err != nil {
			writeError(w, r, err)
			return
		}
	}
	reqs, err := a.Moderation.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// @Summary Get one request
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Param kind path string true "street, pavilion or ad"
// @Param id path string true "Request UUID"
// @Success 200 {object} model.Request
// @Router /admin/requests/{kind}/{id} [get]
func (a *API) GetRequest(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := a.Moderation.Get(r.Context(), kind, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// @Summary Approve a pending request
// @Description Creates the requested entities and links them to the request. 409 when the request was already decided.
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Param kind path string true "street, pavilion or ad"
// @Param id path string true "Request UUID"
// @Success 200 {object} model.Request
// @Router /admin/requests/{kind}/{id}/approve [post]
func (a *API) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, true)
}

// @Summary Reject a pending request
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Param kind path string true "street, pavilion or ad"
// @Param id path string true "Request UUID"
// @Success 200 {object} model.Request
// @Router /admin/requests/{kind}/{id}/reject [post]
func (a *API) RejectRequest(w http.ResponseWriter, r *http.Request) {
	a.decide(w, r, false)
}

func (a *API) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	decide := a.Moderation.Reject
	if approve {
		decide = a.Moderation.Approve
	}
	req, err := decide(r.Context(), kind, id, caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
