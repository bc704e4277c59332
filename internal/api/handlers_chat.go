package api

import (
	"net/http"

	"github.com/google/uuid"

	"fair/internal/model"
)

type PostMessageRequest struct {
	ReceiverID *uuid.UUID `json:"receiver_id,omitempty"`
	Text       string     `json:"text"`
}

type UnreadResponse struct {
	Total int `json:"total"`
}

// @Summary Send a message about a listing
// @Description A non-owner may omit receiver_id; the message then goes to the listing owner.
// @Tags Messages
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param id path string true "Listing UUID"
// @Param body body PostMessageRequest true "Message"
// @Success 201 {object} model.Message
// @Router /listings/{id}/messages [post]
func (a *API) PostMessage(w http.ResponseWriter, r *http.Request) {
	listingID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body PostMessageRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	sender := caller(r).UserID
	var receiver uuid.UUID
	if body.ReceiverID != nil {
		receiver = *body.ReceiverID
	} else {
		l, err := a.Storage.GetListing(r.Context(), listingID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if l.OwnerID == nil || l.OwnedBy(sender) {
			writeError(w, r, &model.ValidationError{Field: "receiver_id", Reason: "is required"})
			return
		}
		receiver = *l.OwnerID
	}

	m, err := a.Chat.PostMessage(r.Context(), listingID, sender, receiver, body.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// @Summary Messages of one conversation
// @Tags Messages
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Listing UUID"
// @Param counterpart path string true "Counterpart user UUID"
// @Success 200 {array} model.Message
// @Router /listings/{id}/threads/{counterpart}/messages [get]
func (a *API) Conversation(w http.ResponseWriter, r *http.Request) {
	listingID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	counterpart, err := pathID(r, "counterpart")
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := a.Chat.Conversation(r.Context(), listingID, caller(r).UserID, counterpart)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// @Summary Open a listing's chat
// @Description Non-owners get their conversation with the owner. The owner may pass counterpart; without it the party of the latest message is used.
// @Tags Messages
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Listing UUID"
// @Param counterpart query string false "Counterpart user UUID"
// @Success 200 {object} chat.ListingChat
// @Router /listings/{id}/chat [get]
func (a *API) ListingChat(w http.ResponseWriter, r *http.Request) {
	listingID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	counterpart, err := queryID(r, "counterpart")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := a.Chat.OpenListingChat(r.Context(), listingID, caller(r).UserID, counterpart)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// @Summary Mark a conversation read
// @Tags Messages
// @Security ApiKeyAuth
// @Param id path string true "Listing UUID"
// @Param counterpart path string true "Counterpart user UUID"
// @Success 204
// @Router /listings/{id}/threads/{counterpart}/read [post]
func (a *API) MarkThreadRead(w http.ResponseWriter, r *http.Request) {
	listingID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	counterpart, err := pathID(r, "counterpart")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.Chat.MarkThreadRead(r.Context(), listingID, caller(r).UserID, counterpart); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Mark every message to the caller read
// @Tags Messages
// @Security ApiKeyAuth
// @Success 204
// @Router /messages/read [post]
func (a *API) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := a.Chat.MarkAllRead(r.Context(), caller(r).UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Conversations on the caller's listings
// @Tags Messages
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {array} model.Thread
// @Router /threads/owner [get]
func (a *API) OwnerThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := a.Chat.ListOwnerThreads(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// @Summary Conversations with owners of other listings
// @Tags Messages
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {array} model.Thread
// @Router /threads/counterpart [get]
func (a *API) CounterpartThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := a.Chat.ListCounterpartThreads(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

// @Summary Unread message total
// @Tags Messages
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} UnreadResponse
// @Router /unread [get]
func (a *API) Unread(w http.ResponseWriter, r *http.Request) {
	n, err := a.Chat.TotalUnread(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UnreadResponse{Total: n})
}
