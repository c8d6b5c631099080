package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	webpush "github.com/maicoln90cpu/boardmd-sub001"
	"github.com/maicoln90cpu/boardmd-sub001/diag"
	"github.com/maicoln90cpu/boardmd-sub001/keys"
	"github.com/maicoln90cpu/boardmd-sub001/storage"
)

const (
	testP256dh = "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM"
	testAuth   = "tBHItJI5svbpez7KI4CCXg"
)

// newTestAPI wires an API against an in-memory registry and a fake push
// service answering every request with the given status.
func newTestAPI(t *testing.T, pushStatus int) (*API, *httptest.Server, storage.Storage) {
	t.Helper()

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(pushStatus)
	}))
	t.Cleanup(server.Close)

	privB64, pubB64, err := keys.Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	signer, err := keys.NewLocalSigner(privB64)
	if err != nil {
		t.Fatalf("NewLocalSigner() error = %v", err)
	}
	client, err := webpush.NewClient(signer, "mailto:admin@example.com")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	store := storage.NewMemory()
	client = client.WithHTTPClient(server.Client()).WithRegistry(store).WithOutcomeLogger(store)

	return &API{
		Client:     client,
		Store:      store,
		PublicKey:  pubB64,
		PrivateKey: privB64,
		Subject:    "mailto:admin@example.com",
	}, server, store
}

func seedRecord(t *testing.T, store storage.Storage, id, userID, endpoint string) {
	t.Helper()
	err := store.Save(context.Background(), &storage.Record{
		ID:     id,
		UserID: userID,
		Subscription: &webpush.Subscription{
			Endpoint: endpoint,
			Keys:     webpush.Keys{P256dh: testP256dh, Auth: testAuth},
		},
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func doPush(t *testing.T, a *API, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	handler := a.RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/push", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestPush_Send(t *testing.T) {
	a, server, store := newTestAPI(t, http.StatusCreated)
	seedRecord(t, store, "dev-1", "user-1", server.URL+"/push/1")
	seedRecord(t, store, "dev-2", "user-1", server.URL+"/push/2")
	seedRecord(t, store, "dev-3", "other-user", server.URL+"/push/3")

	w := doPush(t, a, `{"user_id": "user-1", "title": "Task due", "body": "Water the plants", "notification_type": "task_due"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body)
	}

	var resp sendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Sent != 2 || resp.Failed != 0 || resp.Total != 2 {
		t.Errorf("response = %+v, want sent 2 failed 0 total 2", resp)
	}
	if resp.Message == "" {
		t.Error("response message is empty")
	}
}

func TestPush_SendAllUsers(t *testing.T) {
	a, server, store := newTestAPI(t, http.StatusCreated)
	seedRecord(t, store, "dev-1", "user-1", server.URL+"/push/1")
	seedRecord(t, store, "dev-2", "user-2", server.URL+"/push/2")

	w := doPush(t, a, `{"title": "Maintenance", "body": "Back in five"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body)
	}
	var resp sendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("Total = %d, want 2", resp.Total)
	}
}

func TestPush_SendReportsFailures(t *testing.T) {
	a, server, store := newTestAPI(t, http.StatusBadGateway)
	seedRecord(t, store, "dev-1", "user-1", server.URL+"/push/1")

	w := doPush(t, a, `{"title": "t", "body": "b"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even when deliveries fail; body %s", w.Code, w.Body)
	}
	var resp sendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Sent != 0 || resp.Failed != 1 {
		t.Errorf("response = %+v, want sent 0 failed 1", resp)
	}
}

func TestPush_MissingTitleOrBody(t *testing.T) {
	a, _, _ := newTestAPI(t, http.StatusCreated)

	for _, body := range []string{
		`{"body": "no title"}`,
		`{"title": "no body"}`,
		`{}`,
	} {
		w := doPush(t, a, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
		var resp errorBody
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if resp.Error == "" {
			t.Errorf("body %s: error field is empty", body)
		}
	}
}

func TestPush_UnknownAction(t *testing.T) {
	a, _, _ := newTestAPI(t, http.StatusCreated)

	w := doPush(t, a, `{"action": "reticulate_splines"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPush_BadJSON(t *testing.T) {
	a, _, _ := newTestAPI(t, http.StatusCreated)

	w := doPush(t, a, `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPush_MethodNotAllowed(t *testing.T) {
	a, _, _ := newTestAPI(t, http.StatusCreated)
	mux := http.NewServeMux()
	handler := a.RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/push", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestPush_Unconfigured(t *testing.T) {
	a, _, _ := newTestAPI(t, http.StatusCreated)
	a.Client = nil

	w := doPush(t, a, `{"title": "t", "body": "b"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestPush_ValidateVAPID(t *testing.T) {
	a, _, _ := newTestAPI(t, http.StatusCreated)

	w := doPush(t, a, `{"action": "validate_vapid"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body)
	}
	var report diag.VAPIDReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !report.Valid || !report.JWTValid {
		t.Errorf("report = %+v, want valid with jwtValid", report)
	}
	if report.PublicKeyLength != 65 || report.PrivateKeyLength != 32 {
		t.Errorf("report lengths = %d/%d, want 65/32", report.PublicKeyLength, report.PrivateKeyLength)
	}
}

func TestPush_ValidateVAPIDBadKeys(t *testing.T) {
	a, _, _ := newTestAPI(t, http.StatusCreated)
	a.PublicKey = "not-a-key"

	w := doPush(t, a, `{"action": "validate_vapid"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body)
	}
	var report diag.VAPIDReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if report.Valid {
		t.Errorf("report = %+v, want invalid", report)
	}
}

func TestPush_TestSingle(t *testing.T) {
	a, server, store := newTestAPI(t, http.StatusCreated)
	err := store.Save(context.Background(), &storage.Record{
		ID:         "dev-1",
		UserID:     "user-1",
		DeviceName: "Kitchen tablet",
		Subscription: &webpush.Subscription{
			Endpoint: server.URL + "/push/1",
			Keys:     webpush.Keys{P256dh: testP256dh, Auth: testAuth},
		},
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	w := doPush(t, a, `{"action": "test_single", "device_id": "dev-1", "user_id": "user-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body)
	}
	var result diag.TestResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !result.Success {
		t.Errorf("result = %+v, want success", result)
	}
	if result.DeviceName != "Kitchen tablet" {
		t.Errorf("DeviceName = %q, want Kitchen tablet", result.DeviceName)
	}
}

func TestPush_TestSingleUnknownDevice(t *testing.T) {
	a, _, _ := newTestAPI(t, http.StatusCreated)

	// A missing device is a logical failure, still HTTP 200.
	w := doPush(t, a, `{"action": "test_single", "device_id": "nope"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body)
	}
	var result diag.TestResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.Success || result.Error == "" {
		t.Errorf("result = %+v, want failure with error message", result)
	}
}

func TestPush_TestSingleMissingDeviceID(t *testing.T) {
	a, _, _ := newTestAPI(t, http.StatusCreated)

	w := doPush(t, a, `{"action": "test_single"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDeliveryLogEndpoint(t *testing.T) {
	a, server, store := newTestAPI(t, http.StatusCreated)
	seedRecord(t, store, "dev-1", "user-1", server.URL+"/push/1")

	w := doPush(t, a, `{"title": "t", "body": "b"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d; body %s", w.Code, w.Body)
	}

	mux := http.NewServeMux()
	handler := a.RegisterHandlers(mux)
	req := httptest.NewRequest(http.MethodGet, "/api/log?limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var outcomes []*storage.OutcomeRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &outcomes); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if !outcomes[0].Outcome.Success {
		t.Errorf("outcome = %+v, want success", outcomes[0].Outcome)
	}
}

func TestPing(t *testing.T) {
	a, _, _ := newTestAPI(t, http.StatusCreated)
	mux := http.NewServeMux()
	handler := a.RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
