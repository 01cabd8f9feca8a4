package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func encodeTrigger(trigger domain.ResearchTrigger) ([]byte, error) {
	if err := validateTrigger(trigger); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(trigger)
	if err != nil {
		return nil, fmt.Errorf("marshal research trigger: %w", err)
	}
	return payload, nil
}

func decodeTrigger(data []byte) (domain.ResearchTrigger, error) {
	var trigger domain.ResearchTrigger
	if err := json.Unmarshal(data, &trigger); err != nil {
		return domain.ResearchTrigger{}, domain.WrapError(domain.ErrInvalidInput, "decode research trigger", err)
	}
	trigger.Domain = strings.TrimSpace(trigger.Domain)
	trigger.Prompt = strings.TrimSpace(trigger.Prompt)
	if err := validateTrigger(trigger); err != nil {
		return domain.ResearchTrigger{}, err
	}
	return trigger, nil
}

func validateTrigger(trigger domain.ResearchTrigger) error {
	if strings.TrimSpace(trigger.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "research trigger", fmt.Errorf("id is required"))
	}
	if strings.TrimSpace(trigger.Domain) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "research trigger", fmt.Errorf("domain is required"))
	}
	if strings.TrimSpace(trigger.Prompt) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "research trigger", fmt.Errorf("prompt is required"))
	}
	return nil
}
