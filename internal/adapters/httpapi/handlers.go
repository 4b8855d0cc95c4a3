package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MENT2022/studio/internal/adapters/sink"
	"github.com/MENT2022/studio/internal/app/session"
	"github.com/MENT2022/studio/internal/domain"
	"github.com/MENT2022/studio/internal/ports"
)

type handlers struct {
	deps Deps
}

type statusResponse struct {
	Status    domain.Status `json:"status"`
	SessionID string        `json:"session_id,omitempty"`
	LastTopic string        `json:"last_topic,omitempty"`
	WindowLen int           `json:"window_len"`
	WindowCap int           `json:"window_cap"`
}

type connectRequest struct {
	Endpoint                 string  `json:"endpoint"`
	ClientID                 string  `json:"client_id"`
	Username                 string  `json:"username"`
	Password                 string  `json:"password"`
	Topic                    string  `json:"topic"`
	QoS                      *byte   `json:"qos"`
	KeepAliveSeconds         float64 `json:"keepalive_seconds"`
	ReconnectIntervalSeconds float64 `json:"reconnect_interval_seconds"`
	ConnectTimeoutSeconds    float64 `json:"connect_timeout_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	st := h.deps.State
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    st.Status(),
		SessionID: st.SessionID(),
		LastTopic: st.LastTopic(),
		WindowLen: st.WindowLen(),
		WindowCap: st.WindowCap(),
	})
}

func (h *handlers) window(w http.ResponseWriter, _ *http.Request) {
	samples := h.deps.State.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples, "count": len(samples)})
}

func (h *handlers) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	id, err := h.deps.Controller.RequestConnect(r.Context(), h.params(req))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

// params overlays the request on the configured defaults.
func (h *handlers) params(req connectRequest) session.Params {
	p := h.deps.Defaults
	if req.Endpoint != "" {
		p.Endpoint = req.Endpoint
	}
	if req.ClientID != "" {
		p.ClientID = req.ClientID
	}
	if req.Username != "" || req.Password != "" {
		p.Credentials = ports.Credentials{Username: req.Username, Password: req.Password}
	}
	if req.Topic != "" {
		p.Topic = req.Topic
	}
	if req.QoS != nil {
		p.QoS = *req.QoS
	}
	if req.KeepAliveSeconds != 0 {
		p.KeepAlive = seconds(req.KeepAliveSeconds)
	}
	if req.ReconnectIntervalSeconds != 0 {
		p.ReconnectInterval = seconds(req.ReconnectIntervalSeconds)
	}
	if req.ConnectTimeoutSeconds != 0 {
		p.ConnectTimeout = seconds(req.ConnectTimeoutSeconds)
	}
	return p
}

func (h *handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Controller.RequestDisconnect(r.Context()); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    h.deps.State.Status(),
		WindowCap: h.deps.State.WindowCap(),
	})
}

func (h *handlers) readings(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusNotImplemented, sink.ErrQueryUnsupported.Error())
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := h.deps.Store.QueryReadings(r.Context(), q)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if samples == nil {
		samples = []domain.Sample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples, "count": len(samples)})
}

func parseQuery(r *http.Request) (domain.ReadingQuery, error) {
	v := r.URL.Query()
	q := domain.ReadingQuery{SourceID: v.Get("source")}

	var err error
	if s := v.Get("from"); s != "" {
		if q.From, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return q, errors.New("from: expected RFC 3339 time")
		}
	}
	if s := v.Get("to"); s != "" {
		if q.To, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return q, errors.New("to: expected RFC 3339 time")
		}
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return q, errors.New("to must not be before from")
	}
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 0 {
			return q, errors.New("limit: expected a non-negative integer")
		}
	}
	return q, nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, sink.ErrQueryUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
