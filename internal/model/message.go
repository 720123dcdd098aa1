package model

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

var validRoles = map[Role]bool{
	RoleUser:   true,
	RoleAgent:  true,
	RoleSystem: true,
}

// Message is an ordered sequence of parts attributed to a role.
// Messages are values: WithPart and WithMetadata return new messages and
// never modify the receiver.
type Message struct {
	ID        string         `json:"id" yaml:"id"`
	Role      Role           `json:"role" yaml:"role"`
	Parts     []Part         `json:"parts" yaml:"parts"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	AgentID   string         `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	ContextID string         `json:"context_id,omitempty" yaml:"context_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func NewMessage(role Role, parts ...Part) Message {
	return Message{
		ID:        NewUUID(),
		Role:      role,
		Parts:     append([]Part(nil), parts...),
		CreatedAt: Now(),
	}
}

// NewAgentMessage attributes a message to agentID.
func NewAgentMessage(agentID string, parts ...Part) Message {
	m := NewMessage(RoleAgent, parts...)
	m.AgentID = agentID
	return m
}

func (m Message) WithPart(p Part) Message {
	parts := make([]Part, 0, len(m.Parts)+1)
	parts = append(parts, m.Parts...)
	m.Parts = append(parts, p)
	m.Metadata = maps.Clone(m.Metadata)
	return m
}

func (m Message) WithMetadata(key string, value any) Message {
	md := maps.Clone(m.Metadata)
	if md == nil {
		md = make(map[string]any)
	}
	md[key] = value
	m.Metadata = md
	m.Parts = append([]Part(nil), m.Parts...)
	return m
}

func (m Message) WithContextID(contextID string) Message {
	m.ContextID = contextID
	m.Parts = append([]Part(nil), m.Parts...)
	m.Metadata = maps.Clone(m.Metadata)
	return m
}

// Text joins the text parts with newlines.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (m Message) Validate() error {
	if !validRoles[m.Role] {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	for i, p := range m.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("parts[%d]: %w", i, err)
		}
	}
	return nil
}

func (m Message) ToDict() map[string]any {
	parts := make([]any, len(m.Parts))
	for i, p := range m.Parts {
		parts[i] = p.ToDict()
	}
	d := map[string]any{
		"kind":      "message",
		"messageId": m.ID,
		"role":      string(m.Role),
		"parts":     parts,
		"timestamp": FormatTime(m.CreatedAt),
	}
	if m.AgentID != "" {
		d["agentId"] = m.AgentID
	}
	if m.ContextID != "" {
		d["contextId"] = m.ContextID
	}
	if len(m.Metadata) > 0 {
		d["metadata"] = maps.Clone(m.Metadata)
	}
	return d
}

// MessageFromDict parses the shape produced by ToDict. A missing id or
// timestamp is regenerated.
func MessageFromDict(d map[string]any) (Message, error) {
	role, _ := d["role"].(string)
	m := Message{Role: Role(role)}
	m.ID, _ = d["messageId"].(string)
	if m.ID == "" {
		m.ID = NewUUID()
	}
	m.CreatedAt = Now()
	if ts, ok := d["timestamp"].(string); ok && ts != "" {
		t, err := ParseTime(ts)
		if err != nil {
			return Message{}, err
		}
		m.CreatedAt = t
	}
	m.AgentID, _ = d["agentId"].(string)
	m.ContextID, _ = d["contextId"].(string)
	if md, ok := d["metadata"].(map[string]any); ok {
		m.Metadata = maps.Clone(md)
	}

	parts, err := partsFromAny(d["parts"])
	if err != nil {
		return Message{}, err
	}
	m.Parts = parts

	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func partsFromAny(v any) ([]Part, error) {
	if v == nil {
		return nil, nil
	}
	var raw []map[string]any
	switch list := v.(type) {
	case []map[string]any:
		raw = list
	case []any:
		for i, item := range list {
			pd, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("parts[%d]: expected object", i)
			}
			raw = append(raw, pd)
		}
	default:
		return nil, fmt.Errorf("parts: expected list, got %T", v)
	}

	parts := make([]Part, 0, len(raw))
	for i, pd := range raw {
		p, err := PartFromDict(pd)
		if err != nil {
			return nil, fmt.Errorf("parts[%d]: %w", i, err)
		}
		parts = append(parts, p)
	}
	return parts, nil
}
