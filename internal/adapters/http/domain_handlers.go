package httpadapter

import (
	"net/http"
	"strconv"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type createDomainRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

func (rt *Router) listDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := rt.deps.Domains.ListDomains(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": domains})
}

func (rt *Router) createDomain(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := rt.deps.Domains.CreateDomain(r.Context(), req.Name, req.Description, req.Keywords)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (rt *Router) getDomain(w http.ResponseWriter, r *http.Request) {
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (rt *Router) deleteDomain(w http.ResponseWriter, r *http.Request) {
	cascade, err := strconv.ParseBool(defaultString(r.URL.Query().Get("cascade"), "false"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cascade must be a boolean"})
		return
	}
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.deps.Domains.DeleteDomain(r.Context(), d.ID, cascade); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) updateKeywords(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keywords []string `json:"keywords"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := rt.deps.Domains.UpdateKeywords(r.Context(), d.ID, req.Keywords)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (rt *Router) activateDomain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	active, err := rt.deps.Sessions.SetActive(r.Context(), req.SessionID, d.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": req.SessionID, "domain": active})
}

func (rt *Router) domainStats(w http.ResponseWriter, r *http.Request) {
	d, err := rt.resolveDomain(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	details, err := rt.deps.Domains.DomainStats(r.Context(), d.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	memory, err := rt.deps.Memory.Stats(r.Context(), d.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*domain.DomainStats
		Memory *domain.MemoryStats `json:"memory"`
	}{details, memory})
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
