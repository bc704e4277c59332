package api

import (
	"net/http"

	"fair/internal/catalog"
)

type EditListingRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type ClearPavilionResponse struct {
	Deleted int `json:"deleted"`
}

func actor(r *http.Request) catalog.Actor {
	id := caller(r)
	return catalog.Actor{ID: id.UserID, Role: id.Role}
}

// @Summary Edit a listing
// @Description Owners edit their own listings; admins edit any.
// @Tags Catalog
// @Security ApiKeyAuth
// @Accept json
// @Produce json
// @Param id path string true "Listing UUID"
// @Param body body EditListingRequest true "New title and text"
// @Success 200 {object} model.Listing
// @Router /listings/{id} [put]
func (a *API) EditListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body EditListingRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.Catalog.EditListing(r.Context(), actor(r), id, body.Title, body.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// @Summary Delete a listing
// @Description Removes the listing and its conversations.
// @Tags Catalog
// @Security ApiKeyAuth
// @Param id path string true "Listing UUID"
// @Success 204
// @Router /listings/{id} [delete]
func (a *API) DeleteListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.Catalog.DeleteListing(r.Context(), actor(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Remove every listing in a pavilion
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Param id path string true "Pavilion UUID"
// @Success 200 {object} ClearPavilionResponse
// @Router /admin/pavilions/{id}/clear [post]
func (a *API) ClearPavilion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := a.Catalog.ClearPavilion(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearPavilionResponse{Deleted: n})
}

// @Summary Delete a pavilion and its listings
// @Tags Admin
// @Security ApiKeyAuth
// @Param id path string true "Pavilion UUID"
// @Success 204
// @Router /admin/pavilions/{id} [delete]
func (a *API) DeletePavilion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.Catalog.DeletePavilion(r.Context(), actor(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
