package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"stories-go/internal/relay"
	"stories-go/internal/stories"
)

// TargetHeader carries the real destination of a request forwarded through the proxy.
const TargetHeader = "X-Stories-Target"

const maxEventBody = 64 << 10

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	TargetHeader,
}

// Server exposes a Worker over HTTP:
//
//	/relay                         websocket relay for clients
//	POST /_events/push             push payload in the body
//	POST /_events/sync?tag=        background-sync signal
//	POST /_events/notificationclick?action=
//	POST /_events/message          relay.Message JSON in the body
//
// Any request in absolute form, or carrying X-Stories-Target, is fetched
// through the worker's strategies.
type Server struct {
	worker *Worker
	mux    *http.ServeMux
	logger stories.Logger
}

// NewServer creates a Server. relayHandler serves /relay and may be nil.
func NewServer(worker *Worker, relayHandler http.Handler, logger stories.Logger) *Server {
	s := &Server{worker: worker, mux: http.NewServeMux(), logger: logger}

	if relayHandler != nil {
		s.mux.Handle("/relay", relayHandler)
	}
	s.mux.HandleFunc("POST /_events/push", s.handlePush)
	s.mux.HandleFunc("POST /_events/sync", s.handleSync)
	s.mux.HandleFunc("POST /_events/notificationclick", s.handleClick)
	s.mux.HandleFunc("POST /_events/message", s.handleMessage)
	s.mux.HandleFunc("GET /_status", s.handleStatus)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if target, ok := forwardTarget(r); ok {
		s.forward(w, r, target)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func forwardTarget(r *http.Request) (*url.URL, bool) {
	if h := r.Header.Get(TargetHeader); h != "" {
		u, err := url.Parse(h)
		if err == nil && u.IsAbs() {
			return u, true
		}
		return nil, false
	}
	if r.URL.IsAbs() {
		return r.URL, true
	}
	return nil, false
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, target *url.URL) {
	out := r.Clone(r.Context())
	out.URL = target
	out.Host = target.Host
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	if r.ContentLength == 0 {
		out.Body = nil
	}

	resp, err := s.worker.Dispatch(r.Context(), Event{Type: EventFetch, Request: out})
	if err != nil {
		s.logger.Debug("fetch failed", "url", target.String(), "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug("copying response failed", "url", target.String(), "error", err)
	}
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.dispatch(w, r, Event{Type: EventPush, Data: data})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = SyncTag
	}
	s.dispatch(w, r, Event{Type: EventSync, Tag: tag})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, Event{Type: EventNotificationClick, Action: r.URL.Query().Get("action")})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var m relay.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&m); err != nil {
		http.Error(w, "invalid message: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.dispatch(w, r, Event{Type: EventMessage, Message: &m})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ev Event) {
	if _, err := s.worker.Dispatch(r.Context(), ev); err != nil {
		s.logger.Warn("event failed", "event", string(ev.Type), "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"state":   s.worker.State().String(),
		"static":  s.worker.StaticCache(),
		"dynamic": s.worker.DynamicCache(),
		"images":  s.worker.ImageCache(),
	})
}
