// Package kb provides the knowledge base domain model and the markdown-aware
// chunker that splits documents into retrievable, embeddable chunks.
package kb

type (
	// Document is a knowledge base source document. SHA256 is the content
	// digest used to deduplicate uploads.
	Document struct {
		ID        int64
		Filename  string
		Title     string
		Source    string
		SourceURL string
		SHA256    string
	}

	// Chunk is a retrievable slice of a document. HeadingPath records the
	// markdown heading stack under which the content appeared, e.g.
	// "Troubleshooting > Lockouts". Title is carried from the owning document
	// when chunks are read back for retrieval; it is empty on freshly chunked
	// content that has not been persisted yet.
	Chunk struct {
		ID          int64
		DocID       int64
		ChunkIndex  int
		Title       string
		HeadingPath string
		Content     string
	}
)
