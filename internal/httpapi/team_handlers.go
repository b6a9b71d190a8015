package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"postdesk.io/internal/audit"
	"postdesk.io/internal/authz"
	"postdesk.io/internal/collab"
)

type createTeamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateTeamRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

type transferOwnershipRequest struct {
	UserID string `json:"user_id"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (a *API) createTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := actor(r)
	team, err := a.svc.CreateTeam(r.Context(), collab.NewTeam{
		OwnerID:     id.UserID,
		OwnerEmail:  id.Email,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/teams/%s", team.ID))
	writeJSON(w, http.StatusCreated, team)
}

func (a *API) listTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := a.svc.ListTeamsForUser(r.Context(), actor(r).UserID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[collab.Team]{Items: teams})
}

func (a *API) getTeam(w http.ResponseWriter, r *http.Request) {
	team, err := a.svc.GetTeam(r.Context(), actor(r).UserID, mux.Vars(r)["teamID"])
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (a *API) updateTeam(w http.ResponseWriter, r *http.Request) {
	var req updateTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	team, err := a.svc.UpdateTeam(r.Context(), actor(r).UserID, mux.Vars(r)["teamID"], collab.TeamUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (a *API) deleteTeam(w http.ResponseWriter, r *http.Request) {
	team, err := a.svc.DeleteTeam(r.Context(), actor(r).UserID, mux.Vars(r)["teamID"])
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "team.deleted", map[string]any{
		"team_id": team.ID,
		"name":    team.Name,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.svc.ListMembers(r.Context(), actor(r).UserID, mux.Vars(r)["teamID"])
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[collab.Membership]{Items: members})
}

func (a *API) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := authz.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown role %q", req.Role))
		return
	}
	vars := mux.Vars(r)
	m, err := a.svc.UpdateMemberRole(r.Context(), actor(r).UserID, vars["teamID"], vars["userID"], role)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "member.role_updated", map[string]any{
		"team_id": m.TeamID,
		"target":  m.UserID,
		"role":    string(m.Role),
	})
	writeJSON(w, http.StatusOK, m)
}

func (a *API) removeMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.svc.RemoveMember(r.Context(), actor(r).UserID, vars["teamID"], vars["userID"]); err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "member.removed", map[string]any{
		"team_id": vars["teamID"],
		"target":  vars["userID"],
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) transferOwnership(w http.ResponseWriter, r *http.Request) {
	var req transferOwnershipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	teamID := mux.Vars(r)["teamID"]
	members, err := a.svc.TransferOwnership(r.Context(), actor(r).UserID, teamID, req.UserID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "ownership.transferred", map[string]any{
		"team_id":   teamID,
		"new_owner": req.UserID,
	})
	writeJSON(w, http.StatusOK, listResponse[collab.Membership]{Items: members})
}

func (a *API) listActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 0, 1, 200)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := a.svc.ListActivity(r.Context(), actor(r).UserID, mux.Vars(r)["teamID"], limit, q.Get("cursor"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
