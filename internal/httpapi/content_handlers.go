package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"postdesk.io/internal/collab"
)

type createAssignmentRequest struct {
	PostID     string     `json:"post_id"`
	AssigneeID string     `json:"assignee_id"`
	DueDate    *time.Time `json:"due_date"`
	Notes      string     `json:"notes"`
}

type updateAssignmentRequest struct {
	Status string `json:"status"`
}

type requestApprovalRequest struct {
	PostID string `json:"post_id"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback"`
}

// assignmentView reports the derived status in "status" and the stored
// workflow step in "progress".
type assignmentView struct {
	collab.Assignment
	Status   collab.AssignmentStatus `json:"status"`
	Progress collab.AssignmentStatus `json:"progress"`
}

func (a *API) viewAssignment(as collab.Assignment, now time.Time) assignmentView {
	return assignmentView{Assignment: as, Status: as.EffectiveStatus(now), Progress: as.Status}
}

func (a *API) viewAssignments(list []collab.Assignment) []assignmentView {
	now := a.svc.Now()
	out := make([]assignmentView, 0, len(list))
	for _, as := range list {
		out = append(out, a.viewAssignment(as, now))
	}
	return out
}

func (a *API) createAssignment(w http.ResponseWriter, r *http.Request) {
	var req createAssignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	as, err := a.svc.CreateAssignment(r.Context(), actor(r).UserID, collab.NewAssignment{
		TeamID:     mux.Vars(r)["teamID"],
		PostID:     req.PostID,
		AssigneeID: req.AssigneeID,
		DueDate:    req.DueDate,
		Notes:      req.Notes,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/assignments/%s", as.ID))
	writeJSON(w, http.StatusCreated, a.viewAssignment(as, a.svc.Now()))
}

func (a *API) listAssignments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	overdue := false
	if raw := strings.TrimSpace(q.Get("overdue")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "overdue must be a boolean")
			return
		}
		overdue = v
	}
	list, err := a.svc.ListAssignments(r.Context(), actor(r).UserID, mux.Vars(r)["teamID"], collab.AssignmentQuery{
		AssigneeID:  strings.TrimSpace(q.Get("assignee_id")),
		PostID:      strings.TrimSpace(q.Get("post_id")),
		OverdueOnly: overdue,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[assignmentView]{Items: a.viewAssignments(list)})
}

func (a *API) getAssignment(w http.ResponseWriter, r *http.Request) {
	as, err := a.svc.GetAssignment(r.Context(), actor(r).UserID, mux.Vars(r)["assignmentID"])
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.viewAssignment(as, a.svc.Now()))
}

func (a *API) updateAssignmentStatus(w http.ResponseWriter, r *http.Request) {
	var req updateAssignmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	next, err := collab.ParseAssignmentStatus(req.Status)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	as, err := a.svc.UpdateAssignmentStatus(r.Context(), actor(r).UserID, mux.Vars(r)["assignmentID"], next)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.viewAssignment(as, a.svc.Now()))
}

func (a *API) requestApproval(w http.ResponseWriter, r *http.Request) {
	var req requestApprovalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ap, err := a.svc.RequestApproval(r.Context(), actor(r).UserID, mux.Vars(r)["teamID"], req.PostID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/approvals/%s", ap.ID))
	writeJSON(w, http.StatusCreated, ap)
}

func (a *API) listApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var status collab.ApprovalStatus
	switch raw := strings.ToLower(strings.TrimSpace(q.Get("status"))); raw {
	case "":
	case string(collab.ApprovalPending), string(collab.ApprovalApproved), string(collab.ApprovalRejected):
		status = collab.ApprovalStatus(raw)
	default:
		writeError(w, r, http.StatusBadRequest, "status must be pending, approved or rejected")
		return
	}
	list, err := a.svc.ListApprovals(r.Context(), actor(r).UserID, mux.Vars(r)["teamID"], collab.ApprovalQuery{
		PostID: q.Get("post_id"),
		Status: status,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[collab.Approval]{Items: list})
}

func (a *API) getApproval(w http.ResponseWriter, r *http.Request) {
	ap, err := a.svc.GetApproval(r.Context(), actor(r).UserID, mux.Vars(r)["approvalID"])
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ap)
}

func (a *API) decideApproval(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decision, err := collab.ParseDecision(req.Decision)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	ap, err := a.svc.UpdateApproval(r.Context(), actor(r).UserID, mux.Vars(r)["approvalID"], decision, req.Feedback)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ap)
}
