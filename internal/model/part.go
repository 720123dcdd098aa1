package model

import (
	"fmt"
	"maps"
)

// PartType discriminates the content carried by a Part.
type PartType string

const (
	PartTypeText        PartType = "text"
	PartTypeFile        PartType = "file"
	PartTypeData        PartType = "data"
	PartTypeForm        PartType = "form"
	PartTypeTrace       PartType = "trace"
	PartTypeLogQuery    PartType = "log_query"
	PartTypeMetricQuery PartType = "metric_query"
	PartTypeTraceQuery  PartType = "trace_query"
	PartTypeReference   PartType = "reference"
)

// Default query languages for the observability query parts.
const (
	QueryLanguageLogQL   = "logql"
	QueryLanguagePromQL  = "promql"
	QueryLanguageTraceQL = "traceql"
)

// Part is the atomic unit of content exchanged between agents.
// Construct parts with the New*Part functions; they populate exactly the
// fields relevant to the part type. Description and TokenCount are
// optional on every type.
type Part struct {
	Type          PartType       `json:"type" yaml:"type"`
	Text          string         `json:"text,omitempty" yaml:"text,omitempty"`
	FileURI       string         `json:"file_uri,omitempty" yaml:"file_uri,omitempty"`
	MediaType     string         `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	Data          map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	TraceID       string         `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
	SpanID        string         `json:"span_id,omitempty" yaml:"span_id,omitempty"`
	Query         string         `json:"query,omitempty" yaml:"query,omitempty"`
	QueryLanguage string         `json:"query_language,omitempty" yaml:"query_language,omitempty"`
	Reference     string         `json:"reference,omitempty" yaml:"reference,omitempty"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	TokenCount    int            `json:"token_count,omitempty" yaml:"token_count,omitempty"`
}

func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

func NewFilePart(uri, mediaType string) Part {
	return Part{Type: PartTypeFile, FileURI: uri, MediaType: mediaType}
}

func NewDataPart(data map[string]any) Part {
	return Part{Type: PartTypeData, Data: maps.Clone(data)}
}

// NewFormPart carries a form schema the receiving agent is expected to fill.
func NewFormPart(schema map[string]any) Part {
	return Part{Type: PartTypeForm, Data: maps.Clone(schema)}
}

func NewTraceRefPart(traceID, spanID string) Part {
	return Part{Type: PartTypeTrace, TraceID: traceID, SpanID: spanID}
}

func NewLogQueryPart(query string) Part {
	return Part{Type: PartTypeLogQuery, Query: query, QueryLanguage: QueryLanguageLogQL}
}

func NewMetricQueryPart(query string) Part {
	return Part{Type: PartTypeMetricQuery, Query: query, QueryLanguage: QueryLanguagePromQL}
}

func NewTraceQueryPart(query string) Part {
	return Part{Type: PartTypeTraceQuery, Query: query, QueryLanguage: QueryLanguageTraceQL}
}

func NewReferencePart(ref string) Part {
	return Part{Type: PartTypeReference, Reference: ref}
}

// WithDescription returns a copy of p carrying a human description.
func (p Part) WithDescription(desc string) Part {
	p.Description = desc
	p.Data = maps.Clone(p.Data)
	return p
}

// WithTokenCount returns a copy of p carrying a token-count hint.
func (p Part) WithTokenCount(n int) Part {
	p.TokenCount = n
	p.Data = maps.Clone(p.Data)
	return p
}

// partFields lists which type-specific fields each part type populates.
var partFields = map[PartType][]string{
	PartTypeText:        {"text"},
	PartTypeFile:        {"file_uri", "media_type"},
	PartTypeData:        {"data"},
	PartTypeForm:        {"data"},
	PartTypeTrace:       {"trace_id", "span_id"},
	PartTypeLogQuery:    {"query", "query_language"},
	PartTypeMetricQuery: {"query", "query_language"},
	PartTypeTraceQuery:  {"query", "query_language"},
	PartTypeReference:   {"reference"},
}

var partRequired = map[PartType]string{
	PartTypeFile:        "file_uri",
	PartTypeData:        "data",
	PartTypeForm:        "data",
	PartTypeTrace:       "trace_id",
	PartTypeLogQuery:    "query",
	PartTypeMetricQuery: "query",
	PartTypeTraceQuery:  "query",
	PartTypeReference:   "reference",
}

func (p Part) populated() map[string]bool {
	return map[string]bool{
		"text":           p.Text != "",
		"file_uri":       p.FileURI != "",
		"media_type":     p.MediaType != "",
		"data":           p.Data != nil,
		"trace_id":       p.TraceID != "",
		"span_id":        p.SpanID != "",
		"query":          p.Query != "",
		"query_language": p.QueryLanguage != "",
		"reference":      p.Reference != "",
	}
}

// Validate checks that only the fields relevant to the part type are set
// and that the type's required field is present.
func (p Part) Validate() error {
	allowed, ok := partFields[p.Type]
	if !ok {
		return fmt.Errorf("unknown part type %q", p.Type)
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		allowedSet[f] = true
	}
	for field, set := range p.populated() {
		if set && !allowedSet[field] {
			return fmt.Errorf("part type %q must not set %s", p.Type, field)
		}
	}
	if req, ok := partRequired[p.Type]; ok && !p.populated()[req] {
		return fmt.Errorf("part type %q requires %s", p.Type, req)
	}
	if p.TokenCount < 0 {
		return fmt.Errorf("token_count must not be negative")
	}
	return nil
}

// ToDict renders the part in the A2A-compatible wire shape: a "kind"
// discriminator with camelCase keys. File parts nest under "file".
func (p Part) ToDict() map[string]any {
	d := map[string]any{"kind": string(p.Type)}
	switch p.Type {
	case PartTypeText:
		d["text"] = p.Text
	case PartTypeFile:
		file := map[string]any{"uri": p.FileURI}
		if p.MediaType != "" {
			file["mimeType"] = p.MediaType
		}
		d["file"] = file
	case PartTypeData, PartTypeForm:
		d["data"] = maps.Clone(p.Data)
	case PartTypeTrace:
		d["traceId"] = p.TraceID
		if p.SpanID != "" {
			d["spanId"] = p.SpanID
		}
	case PartTypeLogQuery, PartTypeMetricQuery, PartTypeTraceQuery:
		d["query"] = p.Query
		d["queryLanguage"] = p.QueryLanguage
	case PartTypeReference:
		d["ref"] = p.Reference
	}
	if p.Description != "" {
		d["description"] = p.Description
	}
	if p.TokenCount > 0 {
		d["tokenCount"] = p.TokenCount
	}
	return d
}

// PartFromDict parses the shape produced by ToDict.
func PartFromDict(d map[string]any) (Part, error) {
	kind, _ := d["kind"].(string)
	p := Part{Type: PartType(kind)}
	if _, ok := partFields[p.Type]; !ok {
		return Part{}, fmt.Errorf("unknown part kind %q", kind)
	}

	switch p.Type {
	case PartTypeText:
		p.Text, _ = d["text"].(string)
	case PartTypeFile:
		file, _ := d["file"].(map[string]any)
		p.FileURI, _ = file["uri"].(string)
		p.MediaType, _ = file["mimeType"].(string)
	case PartTypeData, PartTypeForm:
		data, ok := d["data"].(map[string]any)
		if !ok {
			return Part{}, fmt.Errorf("part kind %q: data must be an object", kind)
		}
		p.Data = maps.Clone(data)
	case PartTypeTrace:
		p.TraceID, _ = d["traceId"].(string)
		p.SpanID, _ = d["spanId"].(string)
	case PartTypeLogQuery, PartTypeMetricQuery, PartTypeTraceQuery:
		p.Query, _ = d["query"].(string)
		p.QueryLanguage, _ = d["queryLanguage"].(string)
	case PartTypeReference:
		p.Reference, _ = d["ref"].(string)
	}
	p.Description, _ = d["description"].(string)
	p.TokenCount = intFromAny(d["tokenCount"])

	if err := p.Validate(); err != nil {
		return Part{}, err
	}
	return p, nil
}

// intFromAny accepts the numeric shapes produced by Go literals and by
// encoding/json (float64).
func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
