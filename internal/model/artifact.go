package model

import (
	"fmt"
	"maps"
	"sync"
)

// Artifact is a handoff output. A single logical artifact may arrive as
// several chunks sharing one ID: Index orders them, Append says whether the
// chunk extends or replaces what was received so far, and LastChunk closes it.
type Artifact struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Parts     []Part         `json:"parts" yaml:"parts"`
	MediaType string         `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	Index     int            `json:"index" yaml:"index"`
	Append    bool           `json:"append,omitempty" yaml:"append,omitempty"`
	LastChunk bool           `json:"last_chunk,omitempty" yaml:"last_chunk,omitempty"`
	TraceID   string         `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func NewArtifact(mediaType string, parts ...Part) Artifact {
	return Artifact{
		ID:        NewUUID(),
		Parts:     append([]Part(nil), parts...),
		MediaType: mediaType,
		LastChunk: true,
	}
}

func (a Artifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	if a.Index < 0 {
		return fmt.Errorf("artifact index must not be negative")
	}
	for i, p := range a.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("parts[%d]: %w", i, err)
		}
	}
	return nil
}

func (a Artifact) ToDict() map[string]any {
	parts := make([]any, len(a.Parts))
	for i, p := range a.Parts {
		parts[i] = p.ToDict()
	}
	d := map[string]any{
		"kind":       "artifact",
		"artifactId": a.ID,
		"parts":      parts,
		"index":      a.Index,
		"append":     a.Append,
		"lastChunk":  a.LastChunk,
	}
	if a.Name != "" {
		d["name"] = a.Name
	}
	if a.MediaType != "" {
		d["mediaType"] = a.MediaType
	}
	if a.TraceID != "" {
		d["traceId"] = a.TraceID
	}
	if len(a.Metadata) > 0 {
		d["metadata"] = maps.Clone(a.Metadata)
	}
	return d
}

func ArtifactFromDict(d map[string]any) (Artifact, error) {
	a := Artifact{}
	a.ID, _ = d["artifactId"].(string)
	if a.ID == "" {
		a.ID = NewUUID()
	}
	a.Name, _ = d["name"].(string)
	a.MediaType, _ = d["mediaType"].(string)
	a.TraceID, _ = d["traceId"].(string)
	a.Index = intFromAny(d["index"])
	a.Append, _ = d["append"].(bool)
	a.LastChunk, _ = d["lastChunk"].(bool)
	if md, ok := d["metadata"].(map[string]any); ok {
		a.Metadata = maps.Clone(md)
	}
	parts, err := partsFromAny(d["parts"])
	if err != nil {
		return Artifact{}, err
	}
	a.Parts = parts

	if err := a.Validate(); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// Assembler reassembles chunked artifact deliveries. Chunks for different
// artifact IDs may interleave.
type Assembler struct {
	mu      sync.Mutex
	pending map[string]*Artifact
}

func NewAssembler() *Assembler {
	return &Assembler{pending: make(map[string]*Artifact)}
}

// Add folds chunk into the artifact under assembly. When chunk is the last
// one, the assembled artifact is returned with done=true and forgotten.
func (as *Assembler) Add(chunk Artifact) (assembled Artifact, done bool, err error) {
	if err := chunk.Validate(); err != nil {
		return Artifact{}, false, err
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	cur, ok := as.pending[chunk.ID]
	if !ok || !chunk.Append {
		c := chunk
		c.Parts = append([]Part(nil), chunk.Parts...)
		c.Metadata = maps.Clone(chunk.Metadata)
		cur = &c
		as.pending[chunk.ID] = cur
	} else {
		if chunk.Index <= cur.Index {
			return Artifact{}, false, fmt.Errorf("artifact %s: chunk index %d not after %d", chunk.ID, chunk.Index, cur.Index)
		}
		cur.Parts = append(cur.Parts, chunk.Parts...)
		cur.Index = chunk.Index
		for k, v := range chunk.Metadata {
			if cur.Metadata == nil {
				cur.Metadata = make(map[string]any)
			}
			cur.Metadata[k] = v
		}
		if chunk.TraceID != "" {
			cur.TraceID = chunk.TraceID
		}
	}

	if !chunk.LastChunk {
		return Artifact{}, false, nil
	}
	delete(as.pending, chunk.ID)
	out := *cur
	out.LastChunk = true
	return out, true, nil
}

// Pending reports how many artifacts are partially assembled.
func (as *Assembler) Pending() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return len(as.pending)
}
