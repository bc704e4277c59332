package api

import (
	"net/http"
)

type TicketRequest struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type ReplyRequest struct {
	Reply string `json:"reply"`
}

// @Summary Open a support ticket
// @Tags Support
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param body body TicketRequest true "Ticket"
// @Success 201 {object} model.SupportTicket
// @Router /support [post]
func (a *API) SubmitTicket(w http.ResponseWriter, r *http.Request) {
	var body TicketRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := a.Support.Submit(r.Context(), caller(r).UserID, body.Subject, body.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// @Summary The caller's latest tickets
// @Description Opening the inbox clears the support badge.
// @Tags Support
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {array} model.SupportTicket
// @Router /support [get]
func (a *API) SupportInbox(w http.ResponseWriter, r *http.Request) {
	tickets, err := a.Support.Inbox(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

// @Summary Every ticket
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {array} model.SupportTicket
// @Router /admin/support [get]
func (a *API) AllTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := a.Support.All(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

// @Summary Reply to a ticket
// @Tags Admin
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param id path string true "Ticket UUID"
// @Param body body ReplyRequest true "Reply"
// @Success 200 {object} model.SupportTicket
// @Router /admin/support/{id}/reply [post]
func (a *API) ReplyTicket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body ReplyRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := a.Support.Reply(r.Context(), id, body.Reply)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// @Summary Close a ticket without replying
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Ticket UUID"
// @Success 200 {object} model.SupportTicket
// @Router /admin/support/{id}/close [post]
func (a *API) CloseTicket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := a.Support.Close(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
