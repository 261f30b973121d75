package embedding

import (
	"strings"
)

// =============================================================================
// TASK TYPE SELECTION
// =============================================================================

// ContentType represents the type of content being embedded.
type ContentType string

const (
	ContentTypeDocument     ContentType = "document"      // Processed knowledge documents
	ContentTypeSearchResult ContentType = "search_result" // Fetched web pages
	ContentTypeConversation ContentType = "conversation"  // Chat messages
	ContentTypeQuery        ContentType = "query"         // Semantic search queries
	ContentTypeQuestion     ContentType = "question"      // Questions
	ContentTypeFact         ContentType = "fact"          // Claims to verify
)

// SelectTaskType picks the GenAI task type for a content type. Queries and
// the documents they retrieve use the asymmetric retrieval pair.
func SelectTaskType(contentType ContentType, isQuery bool) string {
	switch contentType {
	case ContentTypeQuery:
		return "RETRIEVAL_QUERY"

	case ContentTypeQuestion:
		if isQuery {
			return "QUESTION_ANSWERING"
		}
		return "RETRIEVAL_DOCUMENT"

	case ContentTypeDocument, ContentTypeSearchResult:
		if isQuery {
			return "RETRIEVAL_QUERY"
		}
		return "RETRIEVAL_DOCUMENT"

	case ContentTypeFact:
		return "FACT_VERIFICATION"

	default:
		return "SEMANTIC_SIMILARITY" // Safe default
	}
}

// DetectContentType attempts to auto-detect content type from text and metadata.
func DetectContentType(text string, metadata map[string]string) ContentType {
	if meta, ok := metadata["content_type"]; ok && meta != "" {
		return ContentType(meta)
	}
	if _, ok := metadata["url"]; ok {
		return ContentTypeSearchResult
	}

	text = strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(text, "what ") || strings.HasPrefix(text, "how ") ||
		strings.HasPrefix(text, "why ") || strings.HasPrefix(text, "when ") ||
		strings.HasPrefix(text, "should ") || strings.HasSuffix(text, "?") {
		return ContentTypeQuestion
	}

	if len(text) < 100 && (strings.Contains(text, "please") || strings.Contains(text, "can you") || strings.Contains(text, "i want")) {
		return ContentTypeConversation
	}

	return ContentTypeDocument
}

// GetOptimalTaskType combines detection and selection for convenience.
func GetOptimalTaskType(text string, metadata map[string]string, isQuery bool) string {
	return SelectTaskType(DetectContentType(text, metadata), isQuery)
}
