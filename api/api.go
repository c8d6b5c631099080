// Package api exposes the push engine over HTTP. A single endpoint accepts
// a JSON body whose optional "action" field selects the operation: key
// validation, a single-device test send, or (by default) a batch send.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chainguard-dev/clog"
	raven "github.com/getsentry/raven-go"
	webpush "github.com/maicoln90cpu/boardmd-sub001"
	"github.com/maicoln90cpu/boardmd-sub001/diag"
	"github.com/maicoln90cpu/boardmd-sub001/storage"
)

// maxBatchTargets bounds one fan-out when no user filter is given.
const maxBatchTargets = 1000

// API is the HTTP surface of the push engine.
type API struct {
	Client *webpush.Client
	Store  storage.Storage

	// Raw VAPID configuration, revalidated on demand by validate_vapid.
	PublicKey  string
	PrivateKey string
	Subject    string
}

type response struct {
	statusCode int
	body       any
}

type errorBody struct {
	Error string `json:"error"`
}

type apiHandler func(r *http.Request) response

func errResponse(code int, format string, args ...any) response {
	return response{statusCode: code, body: errorBody{Error: fmt.Sprintf(format, args...)}}
}

// wrapper converts a typed handler into an http.HandlerFunc, writing the
// body as JSON and forwarding internal errors to Sentry.
func (a *API) wrapper(handler apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := handler(r)
		if resp.statusCode >= http.StatusInternalServerError {
			if eb, ok := resp.body.(errorBody); ok {
				raven.Capture(raven.NewPacket(eb.Error, raven.NewHttp(r)), nil)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.statusCode)
		if err := json.NewEncoder(w).Encode(resp.body); err != nil {
			clog.FromContext(r.Context()).Errorf("writing response: %v", err)
		}
	}
}

func pingHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

// RegisterHandlers binds the API to the given mux and returns the handler
// to serve.
func (a *API) RegisterHandlers(mux *http.ServeMux) http.Handler {
	mux.HandleFunc("/api/push", a.wrapper(a.push))
	mux.HandleFunc("/api/log", a.wrapper(a.deliveryLog))
	mux.HandleFunc("/api/ping", pingHandler)
	return mux
}

// push is the action-discriminated entry point.
//
//	POST /api/push
//	  {action: "validate_vapid"}                          -> VAPID report
//	  {action: "test_single", device_id, user_id, ...}    -> test result
//	  {user_id?, title, body, data?, url?, ...}           -> batch send
func (a *API) push(r *http.Request) response {
	if r.Method != http.MethodPost {
		return errResponse(http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errResponse(http.StatusBadRequest, "reading request body: %v", err)
	}

	var head struct {
		Action string `json:"action"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &head); err != nil {
			return errResponse(http.StatusBadRequest, "parsing request body: %v", err)
		}
	}

	switch head.Action {
	case "validate_vapid":
		return a.validateVAPID(r)
	case "test_single":
		return a.testSingle(r, body)
	case "":
		return a.send(r, body)
	default:
		return errResponse(http.StatusBadRequest, "unknown action %q", head.Action)
	}
}

func (a *API) validateVAPID(r *http.Request) response {
	report := diag.ValidateVAPID(r.Context(), a.PublicKey, a.PrivateKey, a.Subject)
	return response{statusCode: http.StatusOK, body: report}
}

func (a *API) testSingle(r *http.Request, body []byte) response {
	var req struct {
		DeviceID string `json:"device_id"`
		UserID   string `json:"user_id"`
		Title    string `json:"title"`
		Body     string `json:"body"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return errResponse(http.StatusBadRequest, "parsing request body: %v", err)
	}
	if req.DeviceID == "" {
		return errResponse(http.StatusBadRequest, "device_id is required")
	}
	if a.Client == nil {
		return errResponse(http.StatusInternalServerError, "push delivery is not configured")
	}

	result, err := diag.TestSingle(r.Context(), a.Client, a.Store, req.DeviceID, req.UserID, req.Title, req.Body)
	if errors.Is(err, diag.ErrDeviceNotFound) {
		// A logical failure, reported in-band like any other test outcome.
		return response{statusCode: http.StatusOK, body: &diag.TestResult{Error: err.Error()}}
	}
	if err != nil {
		return errResponse(http.StatusInternalServerError, "running test send: %v", err)
	}
	return response{statusCode: http.StatusOK, body: result}
}

type sendResponse struct {
	Message string `json:"message"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Total   int    `json:"total"`
}

func (a *API) send(r *http.Request, body []byte) response {
	var req struct {
		UserID           string         `json:"user_id"`
		Title            string         `json:"title"`
		Body             string         `json:"body"`
		Data             map[string]any `json:"data"`
		URL              string         `json:"url"`
		NotificationType string         `json:"notification_type"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return errResponse(http.StatusBadRequest, "parsing request body: %v", err)
	}
	if req.Title == "" || req.Body == "" {
		return errResponse(http.StatusBadRequest, "title and body are required")
	}
	if a.Client == nil {
		return errResponse(http.StatusInternalServerError, "push delivery is not configured")
	}

	ctx := r.Context()
	var (
		records []*storage.Record
		err     error
	)
	if req.UserID != "" {
		records, err = a.Store.GetByUserID(ctx, req.UserID)
	} else {
		records, err = a.Store.List(ctx, maxBatchTargets, 0)
	}
	if err != nil {
		return errResponse(http.StatusInternalServerError, "loading subscriptions: %v", err)
	}

	targets := make([]webpush.Target, 0, len(records))
	for _, rec := range records {
		targets = append(targets, rec.Target())
	}

	result := a.Client.SendBatch(ctx, &webpush.Notification{
		Title: req.Title,
		Body:  req.Body,
		URL:   req.URL,
		Data:  req.Data,
		Type:  req.NotificationType,
	}, targets)

	return response{statusCode: http.StatusOK, body: sendResponse{
		Message: fmt.Sprintf("dispatched to %d subscriptions", result.Total),
		Sent:    result.Sent,
		Failed:  result.Failed,
		Total:   result.Total,
	}}
}

// deliveryLog returns recent delivery outcomes, newest first.
//
//	GET /api/log?limit=<n>&offset=<n>
func (a *API) deliveryLog(r *http.Request) response {
	if r.Method != http.MethodGet {
		return errResponse(http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	outcomes, err := a.Store.ListOutcomes(r.Context(), limit, offset)
	if err != nil {
		return errResponse(http.StatusInternalServerError, "loading delivery log: %v", err)
	}
	if outcomes == nil {
		outcomes = []*storage.OutcomeRecord{}
	}
	return response{statusCode: http.StatusOK, body: outcomes}
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 0 {
		return def
	}
	return n
}
