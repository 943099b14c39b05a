package models

import "time"

// BasePayload carries the fields every source kind shares. Extra is an
// opaque side-map for metadata the engine does not interpret.
type BasePayload struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// MemoryPayload is a stored agent memory.
type MemoryPayload struct {
	BasePayload
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Importance float32 `json:"importance"`
}

// CodePayload points at an indexed code chunk.
type CodePayload struct {
	BasePayload
	FilePath string `json:"file_path"`
	Language string `json:"language"`
	Snippet  string `json:"snippet"`
}

// ExperiencePayload is one experience record on a given axis. GHAPID is
// the cross-source reference id linking records about the same underlying
// event; ConfidenceTier is gold/silver/bronze/abandoned or empty.
type ExperiencePayload struct {
	BasePayload
	GHAPID         string `json:"ghap_id"`
	Axis           string `json:"axis"`
	Content        string `json:"content"`
	ConfidenceTier string `json:"confidence_tier,omitempty"`
}

// ValuePayload is a synthesized value produced from clustered experience.
type ValuePayload struct {
	BasePayload
	Statement string  `json:"statement"`
	Weight    float32 `json:"weight"`
}

// CommitPayload describes a git commit surfaced as context.
type CommitPayload struct {
	BasePayload
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Files     []string  `json:"files,omitempty"`
}

// payloadMap flattens base fields plus kind-specific entries into the
// map form the vector store persists. Extra keys never shadow typed ones.
func payloadMap(base BasePayload, kv map[string]any) map[string]any {
	m := make(map[string]any, len(kv)+len(base.Extra)+2)
	for k, v := range base.Extra {
		m[k] = v
	}
	if base.ID != "" {
		m["id"] = base.ID
	}
	if !base.CreatedAt.IsZero() {
		m["created_at"] = base.CreatedAt.Format(time.RFC3339)
	}
	for k, v := range kv {
		m[k] = v
	}
	return m
}

// Map converts the payload to the store's map representation.
func (p MemoryPayload) Map() map[string]any {
	return payloadMap(p.BasePayload, map[string]any{
		"content":    p.Content,
		"category":   p.Category,
		"importance": float64(p.Importance),
	})
}

// Map converts the payload to the store's map representation.
func (p CodePayload) Map() map[string]any {
	return payloadMap(p.BasePayload, map[string]any{
		"file_path": p.FilePath,
		"language":  p.Language,
		"snippet":   p.Snippet,
	})
}

// Map converts the payload to the store's map representation.
func (p ExperiencePayload) Map() map[string]any {
	m := map[string]any{
		"ghap_id": p.GHAPID,
		"axis":    p.Axis,
		"content": p.Content,
	}
	if p.ConfidenceTier != "" {
		m["confidence_tier"] = p.ConfidenceTier
	}
	return payloadMap(p.BasePayload, m)
}

// Map converts the payload to the store's map representation.
func (p ValuePayload) Map() map[string]any {
	return payloadMap(p.BasePayload, map[string]any{
		"statement": p.Statement,
		"weight":    float64(p.Weight),
	})
}

// Map converts the payload to the store's map representation.
func (p CommitPayload) Map() map[string]any {
	return payloadMap(p.BasePayload, map[string]any{
		"sha":       p.SHA,
		"author":    p.Author,
		"timestamp": p.Timestamp.Format(time.RFC3339),
		"message":   p.Message,
		"files":     p.Files,
	})
}
