package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"postdesk.io/internal/auth"
	"postdesk.io/internal/collab"
	"postdesk.io/internal/notify"
)

type apiClient struct {
	t       *testing.T
	handler http.Handler
	signer  *auth.Signer
}

type testOptions struct {
	devTokens bool
	hub       *notify.Hub
}

func newTestAPI(t *testing.T, opts testOptions) (*apiClient, *API) {
	t.Helper()
	signer, err := auth.NewSigner("test-secret", "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svcOpts := []collab.Option{collab.WithClock(func() time.Time { return now })}
	if opts.hub != nil {
		svcOpts = append(svcOpts, collab.WithNotifier(opts.hub))
	}
	svc := collab.NewService(collab.NewMemory(), svcOpts...)
	api := New(svc, signer, Options{
		Version:    "test",
		Hub:        opts.hub,
		RateBurst:  1000,
		RatePerSec: 1000,
		DevTokens:  opts.devTokens,
	})
	return &apiClient{t: t, handler: api.Handler(), signer: signer}, api
}

func (c *apiClient) token(user, email string) string {
	c.t.Helper()
	tok, err := c.signer.GenerateToken(user, email, time.Minute)
	if err != nil {
		c.t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

// do sends body as JSON on behalf of user. An empty user sends no token.
func (c *apiClient) do(method, path, user string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+c.token(user, user+"@example.com"))
	}
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

// setupTeam creates a team owned by "owner" and joins each extra member with
// the given role through the invitation flow.
func (c *apiClient) setupTeam(members map[string]string) collab.Team {
	c.t.Helper()
	rr := c.do(http.MethodPost, "/v1/teams", "owner", map[string]string{"name": "Newsroom"})
	expectStatus(c.t, rr, http.StatusCreated)
	team := decodeBody[collab.Team](c.t, rr)

	for user, role := range members {
		rr = c.do(http.MethodPost, "/v1/teams/"+team.ID+"/invitations", "owner", map[string]string{
			"email": user + "@example.com",
			"role":  role,
		})
		expectStatus(c.t, rr, http.StatusCreated)
		inv := decodeBody[collab.Invitation](c.t, rr)
		rr = c.do(http.MethodPost, "/v1/invitations/"+inv.ID+"/accept", user, nil)
		expectStatus(c.t, rr, http.StatusOK)
	}
	return team
}

func TestHealthAndInfoArePublic(t *testing.T) {
	c, _ := newTestAPI(t, testOptions{})
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rr := c.do(http.MethodGet, path, "", nil)
		expectStatus(t, rr, http.StatusOK)
		if rr.Header().Get(requestIDHeader) == "" {
			t.Fatalf("%s: missing request id header", path)
		}
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	c, _ := newTestAPI(t, testOptions{})
	rr := c.do(http.MethodGet, "/v1/teams", "", nil)
	expectStatus(t, rr, http.StatusUnauthorized)
	body := decodeBody[map[string]any](t, rr)
	if body["request_id"] == nil {
		t.Fatalf("expected request_id in error body: %v", body)
	}
}

func TestUnknownRouteAndMethodAreJSON(t *testing.T) {
	c, _ := newTestAPI(t, testOptions{})

	rr := c.do(http.MethodGet, "/v1/nowhere", "u1", nil)
	expectStatus(t, rr, http.StatusNotFound)
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON 404, got %q", ct)
	}

	cases := []struct {
		method, path string
	}{
		{http.MethodPut, "/v1/teams"},
		{http.MethodPut, "/v1/teams/T1"},
		{http.MethodDelete, "/v1/approvals/A1"},
		{http.MethodGet, "/v1/invitations/I1/accept"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := c.do(tc.method, tc.path, "u1", nil)
			expectStatus(t, rr, http.StatusMethodNotAllowed)
			if body := decodeBody[map[string]any](t, rr); body["error"] != "method not allowed" {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestDevTokenEndpoint(t *testing.T) {
	c, _ := newTestAPI(t, testOptions{})
	rr := c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user": "u1", "email": "u1@example.com"})
	expectStatus(t, rr, http.StatusNotFound)

	c, _ = newTestAPI(t, testOptions{devTokens: true})
	rr = c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user": "u1", "email": "U1@Example.com"})
	expectStatus(t, rr, http.StatusOK)
	resp := decodeBody[tokenResponse](t, rr)
	claims, err := c.signer.ParseAndValidate(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "u1@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTeamLifecycle(t *testing.T) {
	c, _ := newTestAPI(t, testOptions{})
	team := c.setupTeam(map[string]string{"editor": "editor"})

	rr := c.do(http.MethodGet, "/v1/teams", "editor", nil)
	expectStatus(t, rr, http.StatusOK)
	teams := decodeBody[listResponse[collab.Team]](t, rr)
	if len(teams.Items) != 1 || teams.Items[0].ID != team.ID {
		t.Fatalf("editor should see the team: %+v", teams.Items)
	}

	rr = c.do(http.MethodGet, "/v1/teams/"+team.ID, "stranger", nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = c.do(http.MethodPatch, "/v1/teams/"+team.ID, "editor", map[string]string{"name": "Hijacked"})
	expectStatus(t, rr, http.StatusForbidden)

	rr = c.do(http.MethodPatch, "/v1/teams/"+team.ID, "owner", map[string]string{"name": "Features"})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[collab.Team](t, rr); got.Name != "Features" {
		t.Fatalf("expected renamed team, got %+v", got)
	}

	rr = c.do(http.MethodGet, "/v1/teams/"+team.ID+"/members", "editor", nil)
	expectStatus(t, rr, http.StatusOK)
	if members := decodeBody[listResponse[collab.Membership]](t, rr); len(members.Items) != 2 {
		t.Fatalf("expected 2 members, got %+v", members.Items)
	}

	rr = c.do(http.MethodDelete, "/v1/teams/"+team.ID+"/members/owner", "owner", nil)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = c.do(http.MethodPost, "/v1/teams/"+team.ID+"/ownership", "owner", map[string]string{"user_id": "editor"})
	expectStatus(t, rr, http.StatusOK)

	rr = c.do(http.MethodDelete, "/v1/teams/"+team.ID, "owner", nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = c.do(http.MethodDelete, "/v1/teams/"+team.ID, "editor", nil)
	expectStatus(t, rr, http.StatusNoContent)

	rr = c.do(http.MethodGet, "/v1/teams/"+team.ID, "editor", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestInvitationEmailMustMatch(t *testing.T) {
	c, _ := newTestAPI(t, testOptions{})
	team := c.setupTeam(nil)

	rr := c.do(http.MethodPost, "/v1/teams/"+team.ID+"/invitations", "owner", map[string]string{
		"email": "Writer@Example.com",
		"role":  "editor",
	})
	expectStatus(t, rr, http.StatusCreated)
	inv := decodeBody[collab.Invitation](t, rr)
	if inv.Email != "writer@example.com" {
		t.Fatalf("expected normalized email, got %q", inv.Email)
	}

	rr = c.do(http.MethodPost, "/v1/teams/"+team.ID+"/invitations", "owner", map[string]string{
		"email": "writer@example.com",
		"role":  "owner",
	})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = c.do(http.MethodGet, "/v1/invitations/"+inv.ID, "intruder", nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = c.do(http.MethodPost, "/v1/invitations/"+inv.ID+"/accept", "intruder", nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = c.do(http.MethodGet, "/v1/invitations/"+inv.ID, "writer", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = c.do(http.MethodPost, "/v1/invitations/"+inv.ID+"/accept", "writer", nil)
	expectStatus(t, rr, http.StatusOK)
	m := decodeBody[collab.Membership](t, rr)
	if m.UserID != "writer" || m.Role != "editor" {
		t.Fatalf("unexpected membership: %+v", m)
	}

	rr = c.do(http.MethodPost, "/v1/invitations/"+inv.ID+"/accept", "writer", nil)
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = c.do(http.MethodGet, "/v1/teams/"+team.ID+"/invitations", "writer", nil)
	expectStatus(t, rr, http.StatusForbidden)
}

func TestApprovalFlow(t *testing.T) {
	c, _ := newTestAPI(t, testOptions{})
	team := c.setupTeam(map[string]string{"editor": "editor", "admin": "admin"})
	base := "/v1/teams/" + team.ID + "/approvals"

	rr := c.do(http.MethodPost, base, "editor", map[string]string{"post_id": "post-1"})
	expectStatus(t, rr, http.StatusCreated)
	ap := decodeBody[collab.Approval](t, rr)
	if ap.Status != collab.ApprovalPending {
		t.Fatalf("expected pending approval, got %s", ap.Status)
	}

	rr = c.do(http.MethodPost, base, "admin", map[string]string{"post_id": "post-1"})
	expectStatus(t, rr, http.StatusConflict)
	if body := decodeBody[map[string]any](t, rr); body["retryable"] != true {
		t.Fatalf("expected retryable conflict, got %v", body)
	}

	rr = c.do(http.MethodPost, "/v1/approvals/"+ap.ID+"/decision", "editor", map[string]string{"decision": "approved"})
	expectStatus(t, rr, http.StatusForbidden)

	rr = c.do(http.MethodPost, "/v1/approvals/"+ap.ID+"/decision", "admin", map[string]string{"decision": "pending"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = c.do(http.MethodPost, "/v1/approvals/"+ap.ID+"/decision", "admin", map[string]string{
		"decision": "rejected",
		"feedback": "needs sources",
	})
	expectStatus(t, rr, http.StatusOK)
	resolved := decodeBody[collab.Approval](t, rr)
	if resolved.Status != collab.ApprovalRejected || resolved.ApproverID != "admin" || resolved.Feedback != "needs sources" {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}

	rr = c.do(http.MethodPost, "/v1/approvals/"+ap.ID+"/decision", "admin", map[string]string{"decision": "approved"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = c.do(http.MethodGet, base+"?status=pending", "editor", nil)
	expectStatus(t, rr, http.StatusOK)
	if pending := decodeBody[listResponse[collab.Approval]](t, rr); len(pending.Items) != 0 {
		t.Fatalf("expected no pending approvals, got %+v", pending.Items)
	}

	rr = c.do(http.MethodGet, base+"?status=bogus", "editor", nil)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestAssignmentViewReportsOverdue(t *testing.T) {
	c, api := newTestAPI(t, testOptions{})
	team := c.setupTeam(map[string]string{"writer": "editor"})
	past := api.svc.Now().Add(-time.Hour)

	rr := c.do(http.MethodPost, "/v1/teams/"+team.ID+"/assignments", "owner", map[string]any{
		"post_id":     "post-9",
		"assignee_id": "writer",
		"due_date":    past,
	})
	expectStatus(t, rr, http.StatusCreated)
	view := decodeBody[map[string]any](t, rr)
	if view["status"] != "overdue" || view["progress"] != "pending" {
		t.Fatalf("expected overdue/pending, got status=%v progress=%v", view["status"], view["progress"])
	}
	id, _ := view["id"].(string)

	rr = c.do(http.MethodPatch, "/v1/assignments/"+id, "writer", map[string]string{"status": "overdue"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = c.do(http.MethodPatch, "/v1/assignments/"+id, "writer", map[string]string{"status": "completed"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = c.do(http.MethodPatch, "/v1/assignments/"+id, "writer", map[string]string{"status": "in_progress"})
	expectStatus(t, rr, http.StatusOK)

	rr = c.do(http.MethodGet, "/v1/teams/"+team.ID+"/assignments?overdue=true", "owner", nil)
	expectStatus(t, rr, http.StatusOK)
	list := decodeBody[listResponse[map[string]any]](t, rr)
	if len(list.Items) != 1 || list.Items[0]["progress"] != "in_progress" {
		t.Fatalf("unexpected overdue listing: %+v", list.Items)
	}

	rr = c.do(http.MethodPatch, "/v1/assignments/"+id, "writer", map[string]string{"status": "completed"})
	expectStatus(t, rr, http.StatusOK)
	if done := decodeBody[map[string]any](t, rr); done["status"] != "completed" {
		t.Fatalf("completed assignment should not be overdue: %v", done)
	}

	rr = c.do(http.MethodGet, "/v1/teams/"+team.ID+"/assignments?overdue=maybe", "owner", nil)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestActivityPagination(t *testing.T) {
	c, _ := newTestAPI(t, testOptions{})
	team := c.setupTeam(map[string]string{"a": "viewer", "b": "viewer"})

	path := "/v1/teams/" + team.ID + "/activity?limit=2"
	rr := c.do(http.MethodGet, path, "a", nil)
	expectStatus(t, rr, http.StatusOK)
	page := decodeBody[collab.ActivityPage](t, rr)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with cursor, got %+v", page)
	}

	seen := map[string]bool{}
	for _, rec := range page.Items {
		seen[rec.ID] = true
	}
	rr = c.do(http.MethodGet, path+"&cursor="+page.NextCursor, "a", nil)
	expectStatus(t, rr, http.StatusOK)
	next := decodeBody[collab.ActivityPage](t, rr)
	if len(next.Items) == 0 {
		t.Fatal("expected older records on the second page")
	}
	for _, rec := range next.Items {
		if seen[rec.ID] {
			t.Fatalf("record %s repeated across pages", rec.ID)
		}
	}

	rr = c.do(http.MethodGet, "/v1/teams/"+team.ID+"/activity?limit=0", "a", nil)
	expectStatus(t, rr, http.StatusBadRequest)
	rr = c.do(http.MethodGet, "/v1/teams/"+team.ID+"/activity?cursor=!!", "a", nil)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestUnknownFieldsRejected(t *testing.T) {
	c, _ := newTestAPI(t, testOptions{})
	rr := c.do(http.MethodPost, "/v1/teams", "owner", map[string]string{"name": "Desk", "colour": "red"})
	expectStatus(t, rr, http.StatusBadRequest)
}

// openStream subscribes user to the notification stream of srv and returns
// a reader positioned after the preamble.
func openStream(t *testing.T, ctx context.Context, c *apiClient, srv *httptest.Server, user, email string) *bufio.Reader {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/notifications/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token(user, email))
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}
	return reader
}

// nextEvent returns the kind of the next event on the stream.
func nextEvent(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		}
	}
}

func TestNotificationStream(t *testing.T) {
	hub := notify.NewHub()
	c, _ := newTestAPI(t, testOptions{hub: hub})
	team := c.setupTeam(map[string]string{"writer": "editor"})

	srv := httptest.NewServer(c.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := openStream(t, ctx, c, srv, "writer", "writer@example.com")

	rr := c.do(http.MethodPost, "/v1/teams/"+team.ID+"/assignments", "owner", map[string]string{
		"post_id":     "post-3",
		"assignee_id": "writer",
	})
	expectStatus(t, rr, http.StatusCreated)

	if got := nextEvent(t, reader); got != string(notify.AssignmentCreated) {
		t.Fatalf("unexpected event %q", got)
	}
}

func TestInviteeStreamReceivesInvitation(t *testing.T) {
	hub := notify.NewHub()
	c, _ := newTestAPI(t, testOptions{hub: hub})
	team := c.setupTeam(nil)

	srv := httptest.NewServer(c.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := openStream(t, ctx, c, srv, "newbie", "Newbie@Example.com")

	rr := c.do(http.MethodPost, "/v1/teams/"+team.ID+"/invitations", "owner", map[string]string{
		"email": "newbie@example.com",
		"role":  "viewer",
	})
	expectStatus(t, rr, http.StatusCreated)

	if got := nextEvent(t, reader); got != string(notify.InvitationCreated) {
		t.Fatalf("unexpected event %q", got)
	}
}

func TestShutdownEndsOpenStreams(t *testing.T) {
	hub := notify.NewHub()
	c, _ := newTestAPI(t, testOptions{hub: hub})

	srv := httptest.NewUnstartedServer(c.handler)
	srv.Config.RegisterOnShutdown(hub.Close)
	srv.Start()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := openStream(t, ctx, c, srv, "writer", "writer@example.com")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelShutdown()
	if err := srv.Config.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown waited on the open stream: %v", err)
	}
	if _, err := reader.ReadString('\n'); err == nil {
		t.Fatal("expected the stream to end after shutdown")
	}
}
