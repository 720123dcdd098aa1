package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type InputType string

const (
	InputTypeText         InputType = "text"
	InputTypeChoice       InputType = "choice"
	InputTypeMultiChoice  InputType = "multi_choice"
	InputTypeConfirmation InputType = "confirmation"
	InputTypeFile         InputType = "file"
)

var validInputTypes = map[InputType]bool{
	InputTypeText:         true,
	InputTypeChoice:       true,
	InputTypeMultiChoice:  true,
	InputTypeConfirmation: true,
	InputTypeFile:         true,
}

// DefaultInputTimeoutMs applies when a request is created without a timeout.
const DefaultInputTimeoutMs int64 = 300_000

type InputOption struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// InputRequest is a clarification question posed by the receiving agent
// while a handoff is in progress. Its timeout runs independently of the
// parent handoff's timeout.
type InputRequest struct {
	ID        string        `json:"id" yaml:"id"`
	HandoffID string        `json:"handoff_id" yaml:"handoff_id"`
	Question  string        `json:"question" yaml:"question"`
	InputType InputType     `json:"input_type" yaml:"input_type"`
	Options   []InputOption `json:"options,omitempty" yaml:"options,omitempty"`
	Default   any           `json:"default,omitempty" yaml:"default,omitempty"`
	Required  bool          `json:"required" yaml:"required"`
	TimeoutMs int64         `json:"timeout_ms" yaml:"timeout_ms"`
	Status    InputStatus   `json:"status" yaml:"status"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
}

type InputResponse struct {
	ID          string    `json:"id" yaml:"id"`
	RequestID   string    `json:"request_id" yaml:"request_id"`
	HandoffID   string    `json:"handoff_id" yaml:"handoff_id"`
	Value       any       `json:"value" yaml:"value"`
	RespondedAt time.Time `json:"responded_at" yaml:"responded_at"`
}

func (r InputRequest) Validate() error {
	if r.Question == "" {
		return fmt.Errorf("question is required")
	}
	if !validInputTypes[r.InputType] {
		return fmt.Errorf("invalid input type %q", r.InputType)
	}
	if (r.InputType == InputTypeChoice || r.InputType == InputTypeMultiChoice) && len(r.Options) == 0 {
		return fmt.Errorf("input type %q requires at least one option", r.InputType)
	}
	if r.TimeoutMs <= 0 {
		return fmt.Errorf("timeout_ms must be positive")
	}
	return nil
}

func (r InputRequest) Deadline() time.Time {
	return r.CreatedAt.Add(time.Duration(r.TimeoutMs) * time.Millisecond)
}

func (r InputRequest) Expired(now time.Time) bool {
	return !now.Before(r.Deadline())
}

// ValidateAnswer checks that value is acceptable for the request's input type.
func (r InputRequest) ValidateAnswer(value any) error {
	switch r.InputType {
	case InputTypeChoice:
		s, ok := value.(string)
		if !ok || !r.hasOption(s) {
			return fmt.Errorf("answer %v is not one of the offered options", value)
		}
	case InputTypeMultiChoice:
		values, err := stringList(value)
		if err != nil {
			return err
		}
		for _, v := range values {
			if !r.hasOption(v) {
				return fmt.Errorf("answer %q is not one of the offered options", v)
			}
		}
	case InputTypeConfirmation:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("confirmation answer must be true or false")
		}
	case InputTypeText, InputTypeFile:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("answer must be a string")
		}
		if r.Required && s == "" {
			return fmt.Errorf("answer is required")
		}
	}
	return nil
}

func (r InputRequest) hasOption(v string) bool {
	for _, o := range r.Options {
		if o.Value == v {
			return true
		}
	}
	return false
}

func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("multi-choice answers must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("multi-choice answer must be a list")
	}
}

// ParseAnswer reads an answer typed as text. JSON booleans, strings and
// lists are decoded; anything else, numbers included, stays text.
func ParseAnswer(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	switch v.(type) {
	case bool, string, []any:
		return v
	}
	return s
}
