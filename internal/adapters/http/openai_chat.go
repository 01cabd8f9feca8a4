package httpadapter

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	defaultModelID     = "research-assistant"
	sessionIDHeader    = "X-Session-Id"
	defaultOpenAIUser  = "openai"
	defaultStreamChars = 120
)

func (rt *Router) modelID(requested string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	if rt.cfg.OpenAICompatModelID != "" {
		return rt.cfg.OpenAICompatModelID
	}
	return defaultModelID
}

func (rt *Router) listModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []openAIModel{{
			ID:      rt.modelID(""),
			Object:  "model",
			Created: rt.now().Unix(),
			OwnedBy: "research-assistant",
		}},
	})
}

// chatCompletions lets OpenAI-compatible frontends talk to the chat handler.
// Only the latest user message is forwarded; earlier history lives in the
// session's domain memory, not in the request.
func (rt *Router) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openAIChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages are required"})
		return
	}
	lastUser, ok := latestUserMessageContent(req.Messages)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one user message with text content is required"})
		return
	}

	sessionID := strings.TrimSpace(r.Header.Get(sessionIDHeader))
	if sessionID == "" {
		sessionID = strings.TrimSpace(req.User)
	}
	if sessionID == "" {
		sessionID = defaultOpenAIUser
	}

	reply, err := rt.deps.Chat.Handle(r.Context(), sessionID, lastUser)
	if err != nil {
		writeError(w, r, err)
		return
	}

	modelID := rt.modelID(req.Model)
	completionID := fmt.Sprintf("chatcmpl-%d", rt.now().UnixNano())
	created := rt.now().Unix()

	if req.Stream {
		chunkChars := rt.cfg.OpenAICompatStreamChunkChars
		if chunkChars <= 0 {
			chunkChars = defaultStreamChars
		}
		if err := writeChatCompletionStream(w, buildTextStreamChunks(completionID, created, modelID, reply.Text, chunkChars)); err != nil {
			slog.Warn("openai_stream_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		}
		return
	}

	promptTokens := estimateTokenCount(lastUser)
	completionTokens := estimateTokenCount(reply.Text)
	writeJSON(w, http.StatusOK, openAIChatResponse{
		ID:      completionID,
		Object:  "chat.completion",
		Created: created,
		Model:   modelID,
		Choices: []openAIChoice{{
			Index:        0,
			Message:      openAIAssistantMessage{Role: "assistant", Content: reply.Text},
			FinishReason: "stop",
		}},
		Usage: openAIUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	})
}

func estimateTokenCount(text string) int {
	return len(strings.Fields(text))
}
