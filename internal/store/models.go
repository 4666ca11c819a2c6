package store

import "time"

// Locator pins a chunk or citation to a place inside its document.
// All fields are optional and serialise as null when unset.
type Locator struct {
	Page        *int    `json:"page"`
	SlideNumber *int    `json:"slide_number"`
	Sheet       *string `json:"sheet"`
	CellRange   *string `json:"cell_range"`
	Section     *string `json:"section"`
}

type Document struct {
	ID          string    `json:"id"` // UUID
	SourceFile  string    `json:"source_file"`
	Filename    string    `json:"filename"`
	FileType    string    `json:"file_type"`
	PublicURL   string    `json:"public_url"`
	FileSize    string    `json:"file_size"`
	ContentHash string    `json:"-"`
	ModifiedAt  time.Time `json:"modified_at"`
	IngestedAt  time.Time `json:"ingested_at"`
}

type Chunk struct {
	ID         string    `json:"id"` // UUID
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
	Locator

	// Copied from the owning document when chunks are loaded for retrieval.
	Filename  string `json:"filename"`
	FileType  string `json:"file_type"`
	PublicURL string `json:"public_url"`
}

// SourceCitation is a cited document fragment returned alongside an answer.
type SourceCitation struct {
	Filename       string  `json:"filename"`
	FileType       string  `json:"file_type"`
	URL            string  `json:"url"`
	RelevanceScore float64 `json:"relevance_score"`
	Snippet        string  `json:"snippet"`
	Locator
}

// AskResponse is the body of POST /api/v1/ask.
type AskResponse struct {
	Question       string           `json:"question"`
	Answer         string           `json:"answer"`
	Sources        []SourceCitation `json:"sources"`
	Confidence     float64          `json:"confidence"`
	ProcessingTime float64          `json:"processing_time"` // seconds
	Timestamp      time.Time        `json:"timestamp"`
}

type CollectionInfo struct {
	CollectionName string     `json:"collection_name"`
	DocumentCount  int        `json:"document_count"`
	EmbeddingModel string     `json:"embedding_model"`
	LastUpdated    *time.Time `json:"last_updated"`
	StoragePath    string     `json:"storage_path"`
}
