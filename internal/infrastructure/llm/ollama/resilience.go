package ollama

import (
	"github.com/kirillkom/research-assistant/internal/infrastructure/resilience"
)

func classifyOllamaError(err error) resilience.ErrorClassification {
	return resilience.ClassifyHTTPError(err)
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	return resilience.WrapTemporary(operation, err, classifyOllamaError)
}
