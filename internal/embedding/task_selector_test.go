package embedding

import "testing"

func TestSelectTaskType(t *testing.T) {
	if got := SelectTaskType(ContentTypeQuery, true); got != "RETRIEVAL_QUERY" {
		t.Fatalf("SelectTaskType(query)=%q, want RETRIEVAL_QUERY", got)
	}
	if got := SelectTaskType(ContentTypeDocument, false); got != "RETRIEVAL_DOCUMENT" {
		t.Fatalf("SelectTaskType(document)=%q, want RETRIEVAL_DOCUMENT", got)
	}
	if got := SelectTaskType(ContentTypeQuestion, true); got != "QUESTION_ANSWERING" {
		t.Fatalf("SelectTaskType(question)=%q, want QUESTION_ANSWERING", got)
	}
	if got := SelectTaskType(ContentTypeFact, false); got != "FACT_VERIFICATION" {
		t.Fatalf("SelectTaskType(fact)=%q, want FACT_VERIFICATION", got)
	}
	if got := SelectTaskType(ContentTypeConversation, false); got != "SEMANTIC_SIMILARITY" {
		t.Fatalf("SelectTaskType(conversation)=%q, want SEMANTIC_SIMILARITY", got)
	}
}

func TestDetectContentType_MetadataWins(t *testing.T) {
	meta := map[string]string{"content_type": "fact"}
	if got := DetectContentType("how do I delegate?", meta); got != ContentTypeFact {
		t.Fatalf("DetectContentType(metadata content_type)=%q, want %q", got, ContentTypeFact)
	}

	meta = map[string]string{"url": "https://example.com"}
	if got := DetectContentType("anything", meta); got != ContentTypeSearchResult {
		t.Fatalf("DetectContentType(url metadata)=%q, want %q", got, ContentTypeSearchResult)
	}
}

func TestDetectContentType_Heuristics(t *testing.T) {
	if got := DetectContentType("How do I run a 1:1?", nil); got != ContentTypeQuestion {
		t.Fatalf("DetectContentType(question)=%q, want %q", got, ContentTypeQuestion)
	}
	if got := DetectContentType("please help", nil); got != ContentTypeConversation {
		t.Fatalf("DetectContentType(conversation)=%q, want %q", got, ContentTypeConversation)
	}
	if got := DetectContentType("Radical candor pairs care with challenge.", nil); got != ContentTypeDocument {
		t.Fatalf("DetectContentType(document)=%q, want %q", got, ContentTypeDocument)
	}
}

func TestGetOptimalTaskType(t *testing.T) {
	if got := GetOptimalTaskType("Managers should coach.", nil, false); got != "RETRIEVAL_DOCUMENT" {
		t.Fatalf("GetOptimalTaskType(document)=%q, want RETRIEVAL_DOCUMENT", got)
	}
}
