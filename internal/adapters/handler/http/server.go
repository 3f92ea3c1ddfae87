package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"hostdeck.app/internal/adapters/docker"
	"hostdeck.app/internal/adapters/repository/pg"
	"hostdeck.app/internal/core/broker"
	"hostdeck.app/internal/core/domain"
	"hostdeck.app/internal/core/ports"
	"hostdeck.app/internal/core/runner"
	"hostdeck.app/internal/core/services"
)

type Server struct {
	router      *chi.Mux
	broker      *broker.Broker
	streams     *services.StreamManager
	coordinator *services.Coordinator
	prober      ports.ContainerProber
	builder     *docker.Builder
	healthSvc   *services.HealthService
	hub         *Hub
	composeDir  string
}

func NewServer(b *broker.Broker, streams *services.StreamManager, coordinator *services.Coordinator, prober ports.ContainerProber, builder *docker.Builder, healthSvc *services.HealthService, hub *Hub, composeDir string) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		broker:      b,
		streams:     streams,
		coordinator: coordinator,
		prober:      prober,
		builder:     builder,
		healthSvc:   healthSvc,
		hub:         hub,
		composeDir:  composeDir,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Metrics endpoint
	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler().ServeHTTP(w, r)
	})

	// Kubernetes probes
	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/health/detailed", s.handleDetailedHealth)
	s.router.Get("/api/ws", s.handleWS)

	s.router.Route("/api/containers", func(r chi.Router) {
		r.Get("/", s.handleListContainers)
		r.Post("/{id}/start", s.handleContainerAction("start"))
		r.Post("/{id}/stop", s.handleContainerAction("stop"))
		r.Post("/{id}/restart", s.handleContainerAction("restart"))
		r.Delete("/{id}", s.handleRemoveContainer)
		r.Post("/{id}/exec", s.handleExec)
	})

	s.router.Route("/api/images", func(r chi.Router) {
		r.Post("/pull", s.handlePullImage)
		r.Post("/build", s.handleBuildImage)
	})

	s.router.Route("/api/compose/{id}", func(r chi.Router) {
		r.Post("/up", s.handleComposeUp)
		r.Post("/down", s.handleComposeDown)
	})

	s.router.Route("/api/operations", func(r chi.Router) {
		r.Get("/", s.handleListOperations)
		r.Get("/{id}", s.handleGetOperation)
	})
}

func (s *Server) Run(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status, code := s.healthSvc.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	report := s.healthSvc.CheckHealth(r.Context())

	statusCode := http.StatusOK
	if report.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.hub, w, r)
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	ids, err := s.prober.RunningContainers(r.Context())
	if err != nil {
		http.Error(w, `{"error": "Failed to list containers", "details": "`+err.Error()+`"}`, http.StatusServiceUnavailable)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"containers": ids})
}

// handleContainerAction runs a lifecycle command synchronously, publishes the
// outcome to the container's log room, and couples the log-stream lifecycle
// to the new container state.
func (s *Server) handleContainerAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		out, err := runner.Run(r.Context(), s.builder.ContainerAction(action, id))
		success := err == nil

		ev := domain.StatusChange{Action: action, Success: success, Timestamp: time.Now().UTC()}
		if err != nil {
			ev.Error = err.Error()
		}
		s.broker.Publish(domain.ContainerLogsRoom(id), ev)
		s.streams.OnContainerStatus(r.Context(), id, action, success)

		if err != nil {
			http.Error(w, `{"error": "Action failed", "details": "`+err.Error()+`"}`, http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "action": action, "container_id": id, "output": out})
	}
}

// handleRemoveContainer goes through the coordinator: removal is a tracked
// operation with a durable record, not a fire-and-forget action.
func (s *Server) handleRemoveContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	op, err := s.coordinator.Launch(r.Context(), domain.OpRemoveResource, id,
		s.builder.ContainerAction("remove", id), domain.ContainerLogsRoom(id), userRef(r))
	if err != nil {
		http.Error(w, `{"error": "Failed to create operation", "details": "`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	s.broker.Publish(domain.ContainerLogsRoom(id), domain.StatusChange{Action: "remove", Success: true, Timestamp: time.Now().UTC()})
	s.streams.OnContainerStatus(r.Context(), id, "remove", true)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(op)
}

type ExecRequest struct {
	Command string `json:"command"`
}

// handleExec is the synchronous exec path. The websocket carries the
// room-published variant; this one returns the output in the response body.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid JSON", "details": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		http.Error(w, `{"error": "Validation failed", "details": "command is required"}`, http.StatusBadRequest)
		return
	}
	if len(req.Command) > 10000 {
		http.Error(w, `{"error": "Validation failed", "details": "command exceeds maximum length of 10000 characters"}`, http.StatusBadRequest)
		return
	}

	out, err := runner.Run(r.Context(), s.builder.Exec(id, req.Command))
	resp := map[string]any{"output": out, "success": err == nil}
	if err != nil {
		resp["error"] = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type PullImageRequest struct {
	Image   string `json:"image"`
	UserRef string `json:"user_ref"`
}

func (s *Server) handlePullImage(w http.ResponseWriter, r *http.Request) {
	var req PullImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid JSON", "details": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	req.Image = strings.TrimSpace(req.Image)
	if req.Image == "" || strings.Contains(req.Image, " ") {
		http.Error(w, `{"error": "Validation failed", "details": "invalid image name"}`, http.StatusBadRequest)
		return
	}

	op, err := s.coordinator.Launch(r.Context(), domain.OpPullImage, req.Image,
		s.builder.PullImage(req.Image), domain.ImageRoom(req.Image), req.UserRef)
	if err != nil {
		http.Error(w, `{"error": "Failed to create operation", "details": "`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(op)
}

type BuildImageRequest struct {
	Dir     string `json:"dir"`
	Tag     string `json:"tag"`
	UserRef string `json:"user_ref"`
}

func (s *Server) handleBuildImage(w http.ResponseWriter, r *http.Request) {
	var req BuildImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid JSON", "details": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	req.Tag = strings.TrimSpace(req.Tag)
	if req.Tag == "" || strings.Contains(req.Tag, " ") {
		http.Error(w, `{"error": "Validation failed", "details": "invalid image tag"}`, http.StatusBadRequest)
		return
	}
	if req.Dir == "" || !filepath.IsAbs(req.Dir) {
		http.Error(w, `{"error": "Validation failed", "details": "dir must be an absolute path"}`, http.StatusBadRequest)
		return
	}

	op, err := s.coordinator.Launch(r.Context(), domain.OpBuildImage, req.Tag,
		s.builder.BuildImage(req.Dir, req.Tag), domain.ImageRoom(req.Tag), req.UserRef)
	if err != nil {
		http.Error(w, `{"error": "Failed to create operation", "details": "`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(op)
}

func (s *Server) handleComposeUp(w http.ResponseWriter, r *http.Request) {
	s.launchCompose(w, r, domain.OpRunCompose, s.builder.ComposeUp)
}

func (s *Server) handleComposeDown(w http.ResponseWriter, r *http.Request) {
	s.launchCompose(w, r, domain.OpStopCompose, s.builder.ComposeDown)
}

// launchCompose runs a compose command in the config's project directory
// under composeDir. The id is a directory name, never a path.
func (s *Server) launchCompose(w http.ResponseWriter, r *http.Request, kind domain.OperationKind, build func(dir string) domain.CommandSpec) {
	id := chi.URLParam(r, "id")
	if id == "" || strings.ContainsAny(id, "/\\") || id == ".." {
		http.Error(w, `{"error": "Validation failed", "details": "invalid config id"}`, http.StatusBadRequest)
		return
	}
	dir := filepath.Join(s.composeDir, id)

	op, err := s.coordinator.Launch(r.Context(), kind, id, build(dir), domain.ComposeRoom(id), userRef(r))
	if err != nil {
		http.Error(w, `{"error": "Failed to create operation", "details": "`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(op)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	offset := 0
	limit := 20

	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil && val >= 0 {
			offset = val
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	result, err := s.coordinator.List(r.Context(), offset, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	op, err := s.coordinator.Get(r.Context(), id)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, pg.ErrNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(op)
}

func userRef(r *http.Request) string {
	return r.Header.Get("X-User-Ref")
}
