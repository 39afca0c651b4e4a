package queuexapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/chatdesk/courier/pkg/queuex"
	"github.com/chatdesk/courier/pkg/queuex/queuexapi"
	"github.com/chatdesk/courier/pkg/queuex/queuexmem"
)

func newTestApp(t *testing.T, secret string) (*fiber.App, *queuex.Client, *queuexmem.MemoryStore) {
	t.Helper()

	store := queuexmem.NewMemoryStore()
	client := queuex.NewClient(store)

	app := fiber.New()
	queuexapi.NewHandler(client).RegisterRoutes(app, queuexapi.NewAuthMiddleware(secret))
	return app, client, store
}

func doRequest(t *testing.T, app *fiber.App, method, path, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestStatsEndpoint(t *testing.T) {
	app, client, _ := newTestApp(t, "")

	client.Enqueue(context.Background(), "send-text", json.RawMessage(`{"text":"hi"}`), queuex.EnqueueOptions{})

	resp := doRequest(t, app, http.MethodGet, "/admin/queues/send-text/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var stats queuex.QueueStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Created != 1 {
		t.Fatalf("expected 1 created job, got %+v", stats)
	}
}

func TestCancelEndpoint(t *testing.T) {
	app, client, _ := newTestApp(t, "")

	id, _ := client.Enqueue(context.Background(), "send-text", json.RawMessage(`{}`), queuex.EnqueueOptions{})

	resp := doRequest(t, app, http.MethodPost, "/admin/queues/send-text/jobs/"+id+"/cancel", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]bool
	json.NewDecoder(resp.Body).Decode(&body)
	if !body["cancelled"] {
		t.Fatalf("expected cancelled=true, got %+v", body)
	}

	// Cancelling through the wrong queue 404s.
	id2, _ := client.Enqueue(context.Background(), "send-text", json.RawMessage(`{}`), queuex.EnqueueOptions{})
	resp = doRequest(t, app, http.MethodPost, "/admin/queues/send-image/jobs/"+id2+"/cancel", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for wrong queue, got %d", resp.StatusCode)
	}
}

func TestPurgeEndpoint(t *testing.T) {
	app, client, _ := newTestApp(t, "")

	client.Enqueue(context.Background(), "send-text", json.RawMessage(`{}`), queuex.EnqueueOptions{})
	client.Enqueue(context.Background(), "send-text", json.RawMessage(`{}`), queuex.EnqueueOptions{})

	resp := doRequest(t, app, http.MethodDelete, "/admin/queues/send-text/jobs", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	stats, _ := client.GetStats(context.Background(), "send-text")
	if stats.Created != 0 {
		t.Fatalf("expected purge to remove queued jobs, got %+v", stats)
	}
}

func TestDeadLettersEndpointPaginates(t *testing.T) {
	app, _, store := newTestApp(t, "")

	for i := 0; i < 3; i++ {
		store.PushDeadLetter(context.Background(), &queuex.DeadLetterRecord{
			ID: string(rune('a' + i)), Queue: "send-text",
			ErrorMessage: "boom", FailedAt: time.Now().Add(time.Duration(i) * time.Minute),
		})
	}

	resp := doRequest(t, app, http.MethodGet, "/admin/dead-letters?page=1&page_size=2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var page struct {
		Items      []queuex.DeadLetterRecord `json:"items"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Items) != 2 || page.Pagination.Total != 3 {
		t.Fatalf("expected 2 of 3 records, got %d of %d", len(page.Items), page.Pagination.Total)
	}
}

func TestDeadLettersEndpointRejectsBadPagination(t *testing.T) {
	app, _, _ := newTestApp(t, "")

	for _, query := range []string{"page=0", "page_size=0", "page_size=500"} {
		resp := doRequest(t, app, http.MethodGet, "/admin/dead-letters?"+query, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", query, resp.StatusCode)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	app, client, _ := newTestApp(t, secret)

	client.Enqueue(context.Background(), "send-text", json.RawMessage(`{}`), queuex.EnqueueOptions{})

	// No token.
	resp := doRequest(t, app, http.MethodGet, "/admin/queues/send-text/stats", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// Garbage token.
	resp = doRequest(t, app, http.MethodGet, "/admin/queues/send-text/stats", "not-a-jwt")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}

	// Valid token.
	resp = doRequest(t, app, http.MethodGet, "/admin/queues/send-text/stats", signToken(t, secret))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", resp.StatusCode)
	}
}
