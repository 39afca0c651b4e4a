package wapp_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatdesk/courier/pkg/errx"
	"github.com/chatdesk/courier/pkg/wapp"
)

// graphStub fakes the Graph API messages endpoint.
type graphStub struct {
	status   int
	response string

	lastPath string
	lastAuth string
	lastBody map[string]any
}

func (g *graphStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.lastPath = r.URL.Path
		g.lastAuth = r.Header.Get("Authorization")

		body, _ := io.ReadAll(r.Body)
		g.lastBody = map[string]any{}
		if err := json.Unmarshal(body, &g.lastBody); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}

		w.WriteHeader(g.status)
		w.Write([]byte(g.response))
	}
}

func newTestClient(t *testing.T, stub *graphStub) *wapp.Client {
	t.Helper()
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)
	return wapp.NewClient("test-token", "12345", server.URL, server.Client())
}

func TestSendTextSuccess(t *testing.T) {
	stub := &graphStub{status: 200, response: `{"messages":[{"id":"wamid.abc"}]}`}
	client := newTestClient(t, stub)

	wireID, err := client.SendText(context.Background(), "+919900112233", "hello")
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if wireID != "wamid.abc" {
		t.Fatalf("expected wire id wamid.abc, got %s", wireID)
	}
	if stub.lastPath != "/12345/messages" {
		t.Fatalf("unexpected path %s", stub.lastPath)
	}
	if stub.lastAuth != "Bearer test-token" {
		t.Fatalf("unexpected auth header %s", stub.lastAuth)
	}
	if stub.lastBody["messaging_product"] != "whatsapp" {
		t.Fatalf("messaging_product missing from body: %+v", stub.lastBody)
	}
	if stub.lastBody["type"] != "text" {
		t.Fatalf("expected type text, got %v", stub.lastBody["type"])
	}
}

func TestSendButtonsRejectsMoreThanThree(t *testing.T) {
	client := newTestClient(t, &graphStub{status: 200, response: `{}`})

	buttons := []wapp.Button{
		{ID: "1", Title: "a"}, {ID: "2", Title: "b"},
		{ID: "3", Title: "c"}, {ID: "4", Title: "d"},
	}
	_, err := client.SendButtons(context.Background(), "+91990011", "pick one", buttons)
	if err == nil {
		t.Fatal("expected more than 3 buttons to be rejected")
	}
	e := errx.AsError(err)
	if e == nil || e.Type != errx.TypeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSendTextRateLimitKeepsStatus(t *testing.T) {
	stub := &graphStub{status: 429, response: `{"error":{"message":"Too many requests","code":130429}}`}
	client := newTestClient(t, stub)

	_, err := client.SendText(context.Background(), "+919900112233", "hello")
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	e := errx.AsError(err)
	if e == nil || e.HTTPStatus != 429 {
		t.Fatalf("expected the 429 status to survive parsing, got %+v", e)
	}
}

func TestSendTextBadRequestIsValidationError(t *testing.T) {
	stub := &graphStub{status: 400, response: `{"error":{"message":"Invalid recipient","code":131026}}`}
	client := newTestClient(t, stub)

	_, err := client.SendText(context.Background(), "+910000000000", "hello")
	e := errx.AsError(err)
	if e == nil || e.HTTPStatus != 400 {
		t.Fatalf("expected 400 to survive parsing, got %v", err)
	}
	if e.Type != errx.TypeValidation {
		t.Fatalf("expected validation type for invalid recipient, got %s", e.Type)
	}
}

func TestSendListRequiresSections(t *testing.T) {
	client := newTestClient(t, &graphStub{status: 200, response: `{}`})

	_, err := client.SendList(context.Background(), "+91990011", "body", "open", nil)
	if err == nil {
		t.Fatal("expected empty sections to be rejected")
	}
}

func TestSendResponseWithoutMessageIDFails(t *testing.T) {
	stub := &graphStub{status: 200, response: `{"messages":[]}`}
	client := newTestClient(t, stub)

	_, err := client.SendText(context.Background(), "+919900112233", "hello")
	if err == nil {
		t.Fatal("expected missing message id to surface as an error")
	}
}
