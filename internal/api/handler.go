// Package api serves the bridge over HTTP and mirrors its health over gRPC.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"CaptureBridge/internal/engine/manager"
	"CaptureBridge/internal/model"
	"CaptureBridge/internal/query"
	"CaptureBridge/internal/replay"
	"CaptureBridge/internal/transport"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bridge is the part of the manager the API drives.
type Bridge interface {
	Status() manager.Status
	State() model.ConnectionState
	Endpoint() string
	Connect(endpoint string) error
	Disconnect()
	Clear()
	Pairs() []*model.MatchedHttpPair
	Pair(id string) (*model.MatchedHttpPair, bool)
	RuntimeLogs() []string
}

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	bridge  Bridge
	querier query.Querier
}

// NewRouter builds the HTTP routes. querier may be nil when no ClickHouse is
// configured; gatherer may be nil to leave out /metrics.
func NewRouter(bridge Bridge, querier query.Querier, gatherer prometheus.Gatherer) *mux.Router {
	h := &APIHandler{bridge: bridge, querier: querier}
	r := mux.NewRouter()

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", h.statusHandler).Methods("GET")
	v1.HandleFunc("/pairs", h.listPairsHandler).Methods("GET")
	v1.HandleFunc("/pairs/{id}", h.getPairHandler).Methods("GET")
	v1.HandleFunc("/pairs/{id}/replay", h.replayHandler).Methods("GET")
	v1.HandleFunc("/logs", h.logsHandler).Methods("GET")
	v1.HandleFunc("/connect", h.connectHandler).Methods("POST")
	v1.HandleFunc("/disconnect", h.disconnectHandler).Methods("POST")
	v1.HandleFunc("/clear", h.clearHandler).Methods("POST")
	v1.HandleFunc("/history", h.historyHandler).Methods("GET")
	v1.HandleFunc("/history/hosts", h.hostsHandler).Methods("GET")

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// pairSummary is the list view of a pair, without payloads.
type pairSummary struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Method      string    `json:"method"`
	Host        string    `json:"host"`
	URL         string    `json:"url"`
	StatusCode  string    `json:"status_code"`
	Complete    bool      `json:"complete"`
	Process     string    `json:"process"`
	RequestLen  uint32    `json:"request_length"`
	ResponseLen uint32    `json:"response_length"`
	Sent        bool      `json:"sent_downstream"`
}

func summarize(p *model.MatchedHttpPair) pairSummary {
	return pairSummary{
		ID:          p.ID(),
		CreatedAt:   p.CreatedAt(),
		Method:      p.Method(),
		Host:        p.Host(),
		URL:         p.URL(),
		StatusCode:  p.StatusCode(),
		Complete:    p.IsComplete(),
		Process:     p.ProcessInfo(),
		RequestLen:  p.RequestLength(),
		ResponseLen: p.ResponseLength(),
		Sent:        p.SentDownstream(),
	}
}

func (h *APIHandler) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bridge.Status())
}

// listPairsHandler supports ?host=, ?complete=true|false and ?limit=.
func (h *APIHandler) listPairsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	host := q.Get("host")
	var complete *bool
	if v := q.Get("complete"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid complete filter: %v", err), http.StatusBadRequest)
			return
		}
		complete = &b
	}
	limit, err := intParam(q, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out := []pairSummary{}
	for _, p := range h.bridge.Pairs() {
		if host != "" && !strings.EqualFold(p.Host(), host) {
			continue
		}
		if complete != nil && p.IsComplete() != *complete {
			continue
		}
		out = append(out, summarize(p))
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) getPairHandler(w http.ResponseWriter, r *http.Request) {
	pair, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pair.Record())
}

func (h *APIHandler) replayHandler(w http.ResponseWriter, r *http.Request) {
	pair, ok := h.lookup(w, r)
	if !ok {
		return
	}
	target, err := replay.BuildTarget(pair)
	if err != nil {
		if errors.Is(err, replay.ErrNoRequest) || errors.Is(err, replay.ErrInvalidHost) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (h *APIHandler) lookup(w http.ResponseWriter, r *http.Request) (*model.MatchedHttpPair, bool) {
	id := mux.Vars(r)["id"]
	pair, ok := h.bridge.Pair(id)
	if !ok {
		http.Error(w, fmt.Sprintf("pair %s not found", id), http.StatusNotFound)
		return nil, false
	}
	return pair, true
}

func (h *APIHandler) logsHandler(w http.ResponseWriter, r *http.Request) {
	logs := h.bridge.RuntimeLogs()
	if logs == nil {
		logs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"logs": logs})
}

type connectRequest struct {
	Endpoint string `json:"endpoint"`
}

type stateResponse struct {
	State    string `json:"state"`
	Endpoint string `json:"endpoint"`
}

// connectHandler accepts an optional {"endpoint": "ws://..."} body.
func (h *APIHandler) connectHandler(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
			return
		}
	}
	if req.Endpoint != "" {
		u, err := url.Parse(req.Endpoint)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			http.Error(w, fmt.Sprintf("invalid endpoint %q: must be a ws or wss URL", req.Endpoint), http.StatusBadRequest)
			return
		}
	}

	if err := h.bridge.Connect(req.Endpoint); err != nil {
		if errors.Is(err, transport.ErrNoEndpoint) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, fmt.Sprintf("failed to connect: %v", err), http.StatusInternalServerError)
		return
	}
	log.Printf("API: connect requested to %s", h.bridge.Endpoint())
	writeJSON(w, http.StatusAccepted, stateResponse{State: h.bridge.State().String(), Endpoint: h.bridge.Endpoint()})
}

func (h *APIHandler) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	h.bridge.Disconnect()
	log.Println("API: disconnect requested")
	writeJSON(w, http.StatusOK, stateResponse{State: h.bridge.State().String(), Endpoint: h.bridge.Endpoint()})
}

func (h *APIHandler) clearHandler(w http.ResponseWriter, r *http.Request) {
	h.bridge.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// historyHandler queries stored pairs: ?host=&method=&status=&since=&until=&limit=
// with RFC 3339 times.
func (h *APIHandler) historyHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "history is not available: no ClickHouse writer configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	req := query.HistoryRequest{Host: q.Get("host"), Method: q.Get("method")}
	var err error
	if req.StatusCode, err = intParam(q, "status"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Limit, err = intParam(q, "limit"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Since, req.Until, err = timeRange(q); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.querier.History(r.Context(), req)
	if err != nil {
		if errors.Is(err, query.ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, fmt.Sprintf("failed to query history: %v", err), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.PairRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *APIHandler) hostsHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "history is not available: no ClickHouse writer configured", http.StatusServiceUnavailable)
		return
	}
	since, until, err := timeRange(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	summaries, err := h.querier.Hosts(r.Context(), since, until)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query hosts: %v", err), http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []query.HostSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func timeRange(q url.Values) (since, until time.Time, err error) {
	if v := q.Get("since"); v != "" {
		if since, err = time.Parse(time.RFC3339, v); err != nil {
			return since, until, fmt.Errorf("invalid since: %w", err)
		}
	}
	if v := q.Get("until"); v != "" {
		if until, err = time.Parse(time.RFC3339, v); err != nil {
			return since, until, fmt.Errorf("invalid until: %w", err)
		}
	}
	return since, until, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonBytes)
}
