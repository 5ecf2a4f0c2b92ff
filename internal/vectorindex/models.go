package vectorindex

// ChunkMeta is the payload stored alongside each indexed chunk and
// returned with query results.
type ChunkMeta struct {
	Page       int    `json:"page"`
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
}

// Document is one chunk to index. Key is the stable chunk identifier
// ("{uid}_chunk_{index}"); upserting the same key replaces the previous
// entry.
type Document struct {
	Key  string
	Text string
	Meta ChunkMeta
}

// Result is a ranked retrieval result, ordered by descending similarity.
type Result struct {
	Documents []string
	Metadatas []ChunkMeta
}
