package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"fair/internal/auth"
	"fair/internal/model"
)

type CreateUserRequest struct {
	Username string     `json:"username"`
	FullName string     `json:"full_name"`
	Role     model.Role `json:"role"`
}

type TokenResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// @Summary Register a user
// @Tags Users
// @Accept json
// @Produce json
// @Param body body CreateUserRequest true "New user"
// @Success 201 {object} TokenResponse
// @Router /users [post]
func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	var body CreateUserRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	body.Username = strings.TrimSpace(body.Username)
	if body.Username == "" || strings.ContainsAny(body.Username, " \t\n") {
		writeError(w, r, &model.ValidationError{Field: "username", Reason: "must be a single non-empty word"})
		return
	}
	if body.Role == "" {
		body.Role = model.RoleUser
	}
	if body.Role != model.RoleUser && body.Role != model.RoleMaster {
		writeError(w, r, &model.ValidationError{Field: "role", Reason: "must be user or master"})
		return
	}

	u := &model.User{
		Username:  body.Username,
		FullName:  strings.TrimSpace(body.FullName),
		Role:      body.Role,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.Storage.CreateUser(r.Context(), u); err != nil {
		writeError(w, r, err)
		return
	}
	token, err := auth.GenerateToken(u.ID, u.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}

	zap.L().Info("user registered", zap.String("user", u.ID.String()), zap.String("role", string(u.Role)))
	writeJSON(w, http.StatusCreated, TokenResponse{User: u, Token: token})
}

// @Summary Current user
// @Tags Users
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} model.User
// @Router /me [get]
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	u, err := a.Storage.GetUser(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// @Summary Delete the caller's account
// @Description Removes the account with its messages, tickets, requests and owned listings.
// @Tags Users
// @Security ApiKeyAuth
// @Success 204
// @Router /me [delete]
func (a *API) DeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := a.Accounts.DeleteSelf(r.Context(), caller(r).UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary List users
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {array} model.User
// @Router /admin/users [get]
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.Accounts.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// @Summary Delete a user
// @Tags Admin
// @Security ApiKeyAuth
// @Param id path string true "User UUID"
// @Success 204
// @Router /admin/users/{id} [delete]
func (a *API) RemoveUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.Accounts.Remove(r.Context(), caller(r).UserID, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Get a listing
// @Tags Catalog
// @Produce json
// @Param id path string true "Listing UUID"
// @Success 200 {object} model.Listing
// @Router /listings/{id} [get]
func (a *API) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	l, err := a.Storage.GetListing(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// @Summary List the pavilions of a street
// @Tags Catalog
// @Produce json
// @Param id path string true "Street UUID"
// @Success 200 {array} model.Pavilion
// @Router /streets/{id}/pavilions [get]
func (a *API) ListPavilions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := a.Storage.GetStreet(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	pavilions, err := a.Storage.PavilionsByStreet(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pavilions)
}
