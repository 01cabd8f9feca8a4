package httpadapter

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type recordFindingRequest struct {
	Topic      string    `json:"topic"`
	Summary    string    `json:"summary"`
	Sources    []string  `json:"sources"`
	Tags       []string  `json:"tags"`
	ObservedAt time.Time `json:"observed_at"`
}

func (rt *Router) recordFinding(w http.ResponseWriter, r *http.Request) {
	var req recordFindingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := rt.deps.Memory.RecordFinding(r.Context(), domain.Finding{
		DomainID:   d.ID,
		TopicName:  req.Topic,
		Summary:    req.Summary,
		Sources:    req.Sources,
		Tags:       req.Tags,
		ObservedAt: req.ObservedAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Classification == domain.ClassificationNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (rt *Router) listTopics(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		return
	}
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	topics, err := rt.deps.Memory.ListRecent(r.Context(), d.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain_id": d.ID, "topics": topics})
}

func (rt *Router) lookupTopic(w http.ResponseWriter, r *http.Request) {
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	topic, err := rt.deps.Memory.FindTopic(r.Context(), d.ID, r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

func (rt *Router) deleteTopic(w http.ResponseWriter, r *http.Request) {
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.deps.Memory.DeleteTopic(r.Context(), d.ID, chi.URLParam(r, "topicID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) checkNovelty(w http.ResponseWriter, r *http.Request) {
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	check, err := rt.deps.Memory.CheckNovelty(r.Context(), d.ID, r.URL.Query().Get("name"), rt.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (rt *Router) searchTopics(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		return
	}
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	topics, err := rt.deps.Memory.SearchTopics(r.Context(), d.ID, domain.TopicQuery{
		Text:  r.URL.Query().Get("q"),
		Tags:  queryList(r, "tags"),
		Limit: limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain_id": d.ID, "topics": topics})
}

var newsletterContentTypes = map[string]string{
	"html":     "text/html; charset=utf-8",
	"markdown": "text/markdown; charset=utf-8",
	"text":     "text/plain; charset=utf-8",
}

func (rt *Router) renderNewsletter(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		return
	}
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	letter, err := rt.deps.Newsletters.Render(r.Context(), d.ID, r.URL.Query().Get("format"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", newsletterContentTypes[letter.Format])
	w.Header().Set("X-Newsletter-Subject", letter.Subject)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(letter.Body))
}

func (rt *Router) sendNewsletter(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
		return
	}
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	letter, err := rt.deps.Newsletters.Send(r.Context(), d.ID, limit)
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordNewsletter(err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domain_id": letter.DomainID,
		"subject":   letter.Subject,
		"format":    letter.Format,
		"topics":    letter.Topics,
	})
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	reply, err := rt.deps.Chat.Handle(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (rt *Router) triggerResearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain string `json:"domain"`
		Prompt string `json:"prompt"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if rt.deps.Triggers == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "research queue is not configured"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}
	d, err := rt.deps.Domains.ResolveDomain(r.Context(), req.Domain)
	if err != nil {
		writeError(w, r, err)
		return
	}

	trigger := domain.ResearchTrigger{
		ID:         uuid.NewString(),
		Domain:     d.Name,
		Prompt:     strings.TrimSpace(req.Prompt),
		EnqueuedAt: rt.now().UTC(),
	}
	if err := rt.deps.Triggers.PublishResearchTrigger(r.Context(), trigger); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, trigger)
}
