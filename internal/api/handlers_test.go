package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/askd/internal/gateway"
	"github.com/kalambet/askd/internal/query"
	"github.com/kalambet/askd/internal/storage"
)

type stubInferrer struct {
	answer string
	err    error
}

func (s stubInferrer) Infer(_ context.Context, _ string) (string, error) {
	return s.answer, s.err
}

// setupHandler wires the handler to an in-memory store. A nil inferrer
// simulates a server started without GEMINI_API_KEY.
func setupHandler(t *testing.T, inf gateway.Inferrer) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return NewHandler(query.NewService(store, inf)), store
}

func do(t *testing.T, h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding body %q: %v", rr.Body.String(), err)
	}
	return v
}

func storedCount(t *testing.T, store *storage.Store) int64 {
	t.Helper()
	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func TestIndex(t *testing.T) {
	h, _ := setupHandler(t, stubInferrer{})

	rr := do(t, h, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(rr.Body.String(), "/ask") {
		t.Error("index page does not reference the /ask endpoint")
	}
}

func TestAsk_Success(t *testing.T) {
	h, store := setupHandler(t, stubInferrer{answer: "4"})

	rr := do(t, h, http.MethodPost, "/ask", `{"question": "2+2?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	resp := decodeBody[AskResponse](t, rr)
	if resp.Answer != "4" {
		t.Errorf("answer = %q, want %q", resp.Answer, "4")
	}

	records, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("stored %d records, want 1", len(records))
	}
	if records[0].Question != "2+2?" || records[0].Answer != "4" {
		t.Errorf("record = %+v, want question=2+2? answer=4", records[0])
	}
}

func TestAsk_BlankQuestion(t *testing.T) {
	h, store := setupHandler(t, stubInferrer{answer: "unused"})

	for _, body := range []string{`{"question": "  "}`, `{"question": ""}`, `{}`} {
		rr := do(t, h, http.MethodPost, "/ask", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want %d", body, rr.Code, http.StatusBadRequest)
		}
		resp := decodeBody[map[string]string](t, rr)
		if resp["error"] != "Empty question" {
			t.Errorf("body %s: error = %q, want %q", body, resp["error"], "Empty question")
		}
	}

	if n := storedCount(t, store); n != 0 {
		t.Errorf("stored %d records, want 0", n)
	}
}

func TestAsk_InvalidJSON(t *testing.T) {
	h, store := setupHandler(t, stubInferrer{answer: "unused"})

	rr := do(t, h, http.MethodPost, "/ask", `{"question": `)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if n := storedCount(t, store); n != 0 {
		t.Errorf("stored %d records, want 0", n)
	}
}

func TestAsk_BodyTooLarge(t *testing.T) {
	h, _ := setupHandler(t, stubInferrer{answer: "unused"})

	big := `{"question": "` + strings.Repeat("a", maxRequestBodySize) + `"}`
	rr := do(t, h, http.MethodPost, "/ask", big)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestAsk_MissingAPIKey(t *testing.T) {
	h, store := setupHandler(t, nil)

	for i := range 2 {
		rr := do(t, h, http.MethodPost, "/ask", fmt.Sprintf(`{"question": "q%d"}`, i))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
		}
		resp := decodeBody[AskResponse](t, rr)
		if resp.Answer != query.ConfigErrorMessage {
			t.Errorf("answer = %q, want %q", resp.Answer, query.ConfigErrorMessage)
		}
	}

	records, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("stored %d records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.Answer != query.ConfigErrorMessage {
			t.Errorf("stored answer = %q, want config error message", rec.Answer)
		}
	}
}

func TestAsk_GatewayFailure(t *testing.T) {
	upstream := &gateway.Error{Err: errors.New("quota exceeded")}
	h, store := setupHandler(t, stubInferrer{err: upstream})

	rr := do(t, h, http.MethodPost, "/ask", `{"question": "hello"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}

	resp := decodeBody[AskResponse](t, rr)
	want := "Error calling Gemini: quota exceeded"
	if resp.Answer != want {
		t.Errorf("answer = %q, want %q", resp.Answer, want)
	}

	records, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 || records[0].Answer != want {
		t.Errorf("records = %+v, want one with the error answer", records)
	}
}

func TestAsk_StorageFailure(t *testing.T) {
	h, store := setupHandler(t, stubInferrer{answer: "4"})
	store.Close()

	rr := do(t, h, http.MethodPost, "/ask", `{"question": "2+2?"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	resp := decodeBody[map[string]string](t, rr)
	if resp["error"] == "" {
		t.Error("expected error field in response")
	}
	if _, ok := resp["answer"]; ok {
		t.Error("storage failure must not report an answer")
	}
}

func TestAsk_MethodNotAllowed(t *testing.T) {
	h, _ := setupHandler(t, stubInferrer{answer: "4"})

	rr := do(t, h, http.MethodGet, "/ask", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestHistory_Empty(t *testing.T) {
	h, _ := setupHandler(t, stubInferrer{answer: "4"})

	rr := do(t, h, http.MethodGet, "/history", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(rr.Body).Decode(&raw); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if string(raw["history"]) != "[]" {
		t.Errorf("history = %s, want []", raw["history"])
	}
}

func TestHistory_NewestFirstCappedAt50(t *testing.T) {
	h, _ := setupHandler(t, stubInferrer{answer: "ok"})

	for i := range 52 {
		rr := do(t, h, http.MethodPost, "/ask", fmt.Sprintf(`{"question": "q%d"}`, i))
		if rr.Code != http.StatusOK {
			t.Fatalf("ask %d: status = %d", i, rr.Code)
		}
	}

	rr := do(t, h, http.MethodGet, "/history", "")
	resp := decodeBody[struct {
		History []struct {
			ID        int64     `json:"id"`
			Question  string    `json:"question"`
			Answer    string    `json:"answer"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"history"`
	}](t, rr)

	if len(resp.History) != 50 {
		t.Fatalf("len(history) = %d, want 50", len(resp.History))
	}
	if resp.History[0].Question != "q51" {
		t.Errorf("newest question = %q, want %q", resp.History[0].Question, "q51")
	}
	for i := 1; i < len(resp.History); i++ {
		if resp.History[i].ID >= resp.History[i-1].ID {
			t.Fatalf("history not ordered by descending id at %d", i)
		}
	}
	if resp.History[0].Timestamp.IsZero() {
		t.Error("timestamp missing from history entry")
	}
}

func TestClearHistory(t *testing.T) {
	h, store := setupHandler(t, stubInferrer{answer: "ok"})

	for i := range 3 {
		do(t, h, http.MethodPost, "/ask", fmt.Sprintf(`{"question": "q%d"}`, i))
	}

	rr := do(t, h, http.MethodPost, "/clear_history", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeBody[ClearResponse](t, rr)
	if !resp.Success || resp.Message != "History cleared" {
		t.Errorf("response = %+v, want success with message", resp)
	}

	if n := storedCount(t, store); n != 0 {
		t.Errorf("stored %d records after clear, want 0", n)
	}

	rr = do(t, h, http.MethodGet, "/history", "")
	hist := decodeBody[HistoryResponse](t, rr)
	if len(hist.History) != 0 {
		t.Errorf("len(history) = %d, want 0", len(hist.History))
	}

	// Clearing an empty store still succeeds.
	rr = do(t, h, http.MethodPost, "/clear_history", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("second clear: status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestHealth(t *testing.T) {
	h, _ := setupHandler(t, stubInferrer{answer: "ok"})
	do(t, h, http.MethodPost, "/ask", `{"question": "q"}`)

	rr := do(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeBody[HealthResponse](t, rr)
	if resp.Status != "ok" || resp.Records != 1 || resp.Inference != "configured" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_MissingAPIKey(t *testing.T) {
	h, _ := setupHandler(t, nil)

	rr := do(t, h, http.MethodGet, "/health", "")
	resp := decodeBody[HealthResponse](t, rr)
	if resp.Inference != "missing_api_key" {
		t.Errorf("inference = %q, want %q", resp.Inference, "missing_api_key")
	}
}

func TestHealth_StorageDown(t *testing.T) {
	h, store := setupHandler(t, stubInferrer{answer: "ok"})
	store.Close()

	rr := do(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestRequestID(t *testing.T) {
	h, _ := setupHandler(t, stubInferrer{answer: "ok"})

	rr := do(t, h, http.MethodGet, "/health", "")
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("response missing request id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get(RequestIDHeader); got != "client-id-1" {
		t.Errorf("request id = %q, want %q", got, "client-id-1")
	}
}

// TestAsk_EndToEndWithGateway runs the handler against a fake Gemini endpoint.
func TestAsk_EndToEndWithGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Paris"}}]}`)
	}))
	defer upstream.Close()

	client, err := gateway.New(gateway.Config{APIKey: "k", Model: "gemini-2.5-flash", BaseURL: upstream.URL})
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	h, _ := setupHandler(t, client)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ask", "application/json", strings.NewReader(`{"question":"Capital of France?"}`))
	if err != nil {
		t.Fatalf("POST /ask: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body AskResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Answer != "Paris" {
		t.Errorf("answer = %q, want %q", body.Answer, "Paris")
	}
}
