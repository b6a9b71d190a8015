package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"postdesk.io/internal/authz"
	"postdesk.io/internal/collab"
)

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (a *API) inviteMember(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := authz.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown role %q", req.Role))
		return
	}
	inv, err := a.svc.InviteMember(r.Context(), actor(r).UserID, mux.Vars(r)["teamID"], req.Email, role)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/invitations/%s", inv.ID))
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) listInvitations(w http.ResponseWriter, r *http.Request) {
	invs, err := a.svc.ListInvitations(r.Context(), actor(r).UserID, mux.Vars(r)["teamID"])
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[collab.Invitation]{Items: invs})
}

// getInvitation shows an invitation to the address it was sent to. Anyone
// else gets a 404 so invitation ids cannot be enumerated.
func (a *API) getInvitation(w http.ResponseWriter, r *http.Request) {
	inv, ok := a.invitationForCaller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// acceptInvitation requires the token email to match the invited address.
func (a *API) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	id := actor(r)
	inv, err := a.svc.GetInvitation(r.Context(), mux.Vars(r)["invitationID"])
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	if !sameEmail(id.Email, inv.Email) {
		writeError(w, r, http.StatusForbidden, "invitation was sent to a different address")
		return
	}
	m, err := a.svc.AcceptInvitation(r.Context(), inv.ID, id.UserID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := a.svc.RevokeInvitation(r.Context(), actor(r).UserID, mux.Vars(r)["invitationID"])
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) invitationForCaller(w http.ResponseWriter, r *http.Request) (collab.Invitation, bool) {
	inv, err := a.svc.GetInvitation(r.Context(), mux.Vars(r)["invitationID"])
	if err != nil {
		a.handleServiceError(w, r, err)
		return collab.Invitation{}, false
	}
	if !sameEmail(actor(r).Email, inv.Email) {
		writeError(w, r, http.StatusNotFound, "invitation not found")
		return collab.Invitation{}, false
	}
	return inv, true
}

func sameEmail(a, b string) bool {
	a = strings.TrimSpace(a)
	return a != "" && strings.EqualFold(a, strings.TrimSpace(b))
}
