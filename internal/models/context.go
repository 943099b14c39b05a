package models

// Source identifies where a retrieved context item came from.
type Source string

const (
	SourceMemory     Source = "memory"
	SourceCode       Source = "code"
	SourceExperience Source = "experience"
	SourceValue      Source = "value"
	SourceCommit     Source = "commit"
)

// ContextItem is one retrieved unit of content, constructed per query and
// never persisted. Relevance is the similarity score from retrieval.
type ContextItem struct {
	Source    Source         `json:"source"`
	Content   string         `json:"content"`
	Relevance float32        `json:"relevance"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ClusterInfo summarizes one extracted cluster. Label is always >= 0 in
// output; noise points are dropped before results are built. The centroid
// is the confidence-weighted mean of the members' original (un-normalized)
// vectors.
type ClusterInfo struct {
	Label     int       `json:"label"`
	Centroid  []float32 `json:"centroid"`
	MemberIDs []string  `json:"member_ids"`
	Size      int       `json:"size"`
	AvgWeight float32   `json:"avg_weight"`
}
