package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// smoke drives a running postdesk-api through one approval cycle. It needs
// the dev token endpoint, so point it at a non-production deployment.
func main() {
	httpBase := envOr("POSTDESK_SMOKE_HTTP", "http://localhost:8080")
	grpcAddr := envOr("POSTDESK_SMOKE_GRPC", "localhost:9090")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := checkHealth(ctx, grpcAddr); err != nil {
		log.Fatalf("grpc health at %s: %v", grpcAddr, err)
	}

	run := uuid.NewString()[:8]
	c := &client{base: httpBase, http: &http.Client{Timeout: 5 * time.Second}}
	owner := c.login(ctx, "smoke-owner-"+run, "owner-"+run+"@smoke.test")
	editor := c.login(ctx, "smoke-editor-"+run, "editor-"+run+"@smoke.test")

	var team struct {
		ID string `json:"id"`
	}
	c.call(ctx, owner, http.MethodPost, "/v1/teams", map[string]string{"name": "smoke " + run}, http.StatusCreated, &team)

	var inv struct {
		ID string `json:"id"`
	}
	c.call(ctx, owner, http.MethodPost, "/v1/teams/"+team.ID+"/invitations", map[string]string{
		"email": "editor-" + run + "@smoke.test",
		"role":  "editor",
	}, http.StatusCreated, &inv)
	c.call(ctx, editor, http.MethodPost, "/v1/invitations/"+inv.ID+"/accept", nil, http.StatusOK, nil)

	var ap struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	c.call(ctx, editor, http.MethodPost, "/v1/teams/"+team.ID+"/approvals", map[string]string{"post_id": "post-" + run}, http.StatusCreated, &ap)
	c.call(ctx, editor, http.MethodPost, "/v1/approvals/"+ap.ID+"/decision", map[string]string{"decision": "approved"}, http.StatusForbidden, nil)
	c.call(ctx, owner, http.MethodPost, "/v1/approvals/"+ap.ID+"/decision", map[string]string{"decision": "approved"}, http.StatusOK, &ap)
	if ap.Status != "approved" {
		log.Fatalf("approval %s ended as %q", ap.ID, ap.Status)
	}

	var activity struct {
		Items []struct {
			Action string `json:"action"`
		} `json:"items"`
	}
	c.call(ctx, editor, http.MethodGet, "/v1/teams/"+team.ID+"/activity", nil, http.StatusOK, &activity)
	if len(activity.Items) == 0 || activity.Items[0].Action != "approval.approved" {
		log.Fatalf("unexpected activity head: %+v", activity.Items)
	}

	c.call(ctx, owner, http.MethodDelete, "/v1/teams/"+team.ID, nil, http.StatusNoContent, nil)
	fmt.Printf("postdesk smoke test passed: team=%s approval=%s\n", team.ID, ap.ID)
}

func checkHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %s", resp.GetStatus())
	}
	return nil
}

type client struct {
	base string
	http *http.Client
}

func (c *client) login(ctx context.Context, user, email string) string {
	var resp struct {
		Token string `json:"token"`
	}
	c.call(ctx, "", http.MethodPost, "/v1/auth/token", map[string]string{"user": user, "email": email}, http.StatusOK, &resp)
	return resp.Token
}

// call exits the process unless the response carries wantStatus.
func (c *client) call(ctx context.Context, token, method, path string, body any, wantStatus int, out any) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: encode: %v", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: want %d, got %d: %s", method, path, wantStatus, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
