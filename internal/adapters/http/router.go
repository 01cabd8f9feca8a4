package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/research-assistant/internal/adapters/chat"
	"github.com/kirillkom/research-assistant/internal/config"
	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
	"github.com/kirillkom/research-assistant/internal/observability/metrics"
)

const (
	serviceName         = "api"
	backpressureWait    = 250 * time.Millisecond
	maxRequestBodyBytes = 1 << 20
)

type ChatHandler interface {
	Handle(ctx context.Context, sessionID, text string) (chat.Reply, error)
}

type TriggerPublisher interface {
	PublishResearchTrigger(ctx context.Context, trigger domain.ResearchTrigger) error
}

type Dependencies struct {
	Domains     ports.DomainRegistry
	Sessions    ports.SessionScope
	Memory      ports.MemoryService
	Newsletters ports.NewsletterService
	Chat        ChatHandler
	Triggers    TriggerPublisher
	Metrics     *metrics.HTTPServerMetrics
}

type Router struct {
	cfg  config.Config
	deps Dependencies
	now  func() time.Time
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	return &Router{cfg: cfg, deps: deps, now: time.Now}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	if rt.deps.Metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return rt.deps.Metrics.Middleware(serviceName, next)
		})
	}

	r.Get("/healthz", rt.healthz)
	if rt.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.recordRejected)
		})
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, backpressureWait, rt.recordRejected)
		})

		r.Get("/domains", rt.listDomains)
		r.Post("/domains", rt.createDomain)
		r.Route("/domains/{domainID}", func(r chi.Router) {
			r.Get("/", rt.getDomain)
			r.Delete("/", rt.deleteDomain)
			r.Put("/keywords", rt.updateKeywords)
			r.Post("/activate", rt.activateDomain)
			r.Get("/stats", rt.domainStats)
			r.Post("/findings", rt.recordFinding)
			r.Get("/topics", rt.listTopics)
			r.Get("/topics/lookup", rt.lookupTopic)
			r.Delete("/topics/{topicID}", rt.deleteTopic)
			r.Get("/novelty", rt.checkNovelty)
			r.Get("/search", rt.searchTopics)
			r.Get("/newsletter", rt.renderNewsletter)
			r.Post("/newsletter/send", rt.sendNewsletter)
		})

		r.Post("/chat", rt.chat)
		r.Post("/research/trigger", rt.triggerResearch)

		r.Group(func(r chi.Router) {
			r.Use(openAICompatAuthMiddleware(rt.cfg.OpenAICompatAPIKey))
			r.Get("/models", rt.listModels)
			r.Post("/chat/completions", rt.chatCompletions)
		})
	})
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) recordRejected(reason string) {
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordRejected(serviceName, reason)
	}
}

// resolveDomain accepts an id or a name in the {domainID} path segment.
func (rt *Router) resolveDomain(r *http.Request) (*domain.Domain, error) {
	return rt.deps.Domains.ResolveDomain(r.Context(), chi.URLParam(r, "domainID"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func queryList(r *http.Request, key string) []string {
	out := make([]string, 0)
	for _, raw := range r.URL.Query()[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
