package host

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/namespace"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// ControlPrefix is the path prefix of the host control endpoints.
const ControlPrefix = "/__offline"

// maxControlBody limits message and push payloads.
const maxControlBody = 64 << 10

type ServerConfig struct {
	Runtime *Runtime
	// Storage of the worker, listed by the namespaces endpoint.
	Storage  cache.Storage
	Registry *namespace.Registry
	// URL of the web application requests are passed through to.
	OriginURL url.URL
	// Hostname to use for passed through requests, the origin URL host if empty.
	OriginHost string
	// Metrics served on /metrics. The endpoint is disabled if nil.
	Gatherer prometheus.Gatherer
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Server is the HTTP surface of the runtime. Requests for the application
// become fetch events; requests the worker leaves unanswered go to the origin.
type Server struct {
	runtime      *Runtime
	storage      cache.Storage
	registry     *namespace.Registry
	keyer        cachekey.CacheKeyer
	log          zerolog.Logger
	reverseproxy httputil.ReverseProxy
	router       chi.Router
}

func NewServer(config ServerConfig) *Server {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	origin := config.OriginURL
	s := &Server{
		runtime:  config.Runtime,
		storage:  config.Storage,
		registry: config.Registry,
		keyer:    cachekey.NewCacheKeyer(&origin),
		log:      logger,
	}

	hostHeader := origin.Host
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
	}
	s.reverseproxy = httputil.ReverseProxy{
		Director: createDirector(origin.Scheme, origin.Host, hostHeader),
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RemoteAddrHandler("sourceIp"))
	r.Use(hlog.RequestIDHandler("requestId", "Request-Id"))
	r.Use(hlog.AccessHandler(logAccess))
	r.Use(middleware.Recoverer)

	r.Route(ControlPrefix, func(r chi.Router) {
		r.Post("/message", s.handleMessage)
		r.Post("/push", s.handlePush)
		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/{id}/click", s.handleNotificationClick)
		r.Get("/clients", s.handleClients)
		r.Post("/clients", s.handleConnect)
		r.Delete("/clients/{id}", s.handleDisconnect)
		r.Get("/state", s.handleState)
		r.Get("/namespaces", s.handleNamespaces)
	})
	if config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{}))
	}
	r.HandleFunc("/*", s.handleFetch)
	s.router = r

	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func logAccess(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("Sending response to client")
}

// handleFetch gives the worker a chance to answer the request
// and passes it through to the origin otherwise.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if res, ok := s.runtime.Fetch(r.Context(), r); ok {
		writeResponse(w, res)
		return
	}

	cs := rfc9211.CacheStatus{}
	if s.runtime.State() == StateActive {
		cs.Forward(rfc9211.FwdReasonMethod)
	} else {
		cs.Forward(rfc9211.FwdReasonBypass)
	}
	hlog.FromRequest(r).Trace().Str("url", r.URL.String()).Str("fwd", string(cs.FwdReason)).Msg("Passing request through")
	w.Header().Set(rfc9211.HeaderName, cs.String())
	s.reverseproxy.ServeHTTP(w, r)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	data, ok := readControlBody(w, r)
	if !ok {
		return
	}
	reply, replied, err := s.runtime.PostMessage(r.Context(), data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !replied {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	data, ok := readControlBody(w, r)
	if !ok {
		return
	}
	if err := s.runtime.Push(r.Context(), data); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.Notifications().List())
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.ClickNotification(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.ClientInfos())
}

type connectRequest struct {
	URL  string                  `json:"url"`
	Type offlinecache.ClientType `json:"type"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "expected JSON object with url", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, s.runtime.Connect(req.URL, req.Type))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.Disconnect(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type stateResponse struct {
	State      State    `json:"state"`
	Version    string   `json:"version"`
	Namespaces []string `json:"namespaces"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	res := stateResponse{
		State:      s.runtime.State(),
		Version:    s.registry.Version(),
		Namespaces: []string{},
	}
	for _, id := range s.registry.Current() {
		res.Namespaces = append(res.Namespaces, id.String())
	}
	writeJSON(w, http.StatusOK, res)
}

type namespaceInfo struct {
	Name    string   `json:"name"`
	Current bool     `json:"current"`
	Entries []string `json:"entries"`
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	names, err := s.storage.Namespaces(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	infos := make([]namespaceInfo, 0, len(names))
	for _, name := range names {
		info := namespaceInfo{Name: name, Current: s.registry.IsCurrent(name), Entries: []string{}}
		handle, err := s.storage.Open(r.Context(), name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		err = handle.Keys(r.Context(), func(key string) {
			if req, err := s.keyer.GetRequestFromKey(key); err == nil {
				info.Entries = append(info.Entries, req.URL.String())
			} else {
				info.Entries = append(info.Entries, key)
			}
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNoWorker):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrUnknownClient), errors.Is(err, ErrUnknownNotification):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("Control request failed")
	}
	http.Error(w, err.Error(), status)
}

func readControlBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxControlBody))
	if err != nil {
		http.Error(w, "could not read body", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return data, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeResponse(w http.ResponseWriter, res *http.Response) {
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	io.Copy(w, res.Body)
}

// createDirector points relative (reverse proxy) requests at the origin.
// Absolute-form (forward proxy) requests keep their target.
func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		if req.URL.IsAbs() {
			return
		}
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}
