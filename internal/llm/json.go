package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/BenDundee/ravana/internal/logging"
)

var (
	// ErrNoJSON is returned when a completion contains no JSON object.
	ErrNoJSON = errors.New("no JSON object in response")
	// ErrStructuredOutput wraps the failure of CompleteJSON once every re-ask
	// has been spent. The model answered; asking again will not help.
	ErrStructuredOutput = errors.New("structured output failed")
)

// CompleteJSON requests a JSON object and decodes it into out. When the reply
// does not decode, the model is shown its reply and the decode error and asked
// again, up to retries extra times. The final Response is returned alongside.
//
// Each reply is decoded into a fresh value; out is only written when a reply
// decodes cleanly, so fields from a rejected reply never leak into the result.
func CompleteJSON(ctx context.Context, client Client, req Request, out any, retries int) (Response, error) {
	req.JSONMode = true
	msgs := append([]Message(nil), req.Messages...)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		req.Messages = msgs
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return Response{}, err
		}

		decodeErr := decodeInto(resp.Content, out)
		if decodeErr == nil {
			return resp, nil
		}
		lastErr = decodeErr
		logging.APIWarn("Structured output attempt %d/%d failed for %s: %v", attempt+1, retries+1, req.Model, decodeErr)

		msgs = append(msgs,
			Message{Role: RoleAssistant, Content: resp.Content},
			Message{Role: RoleUser, Content: fmt.Sprintf(
				"Your previous reply could not be parsed: %v. Respond again with only a single valid JSON object matching the requested schema.",
				decodeErr)},
		)
	}
	return Response{}, fmt.Errorf("%w after %d attempts: %w", ErrStructuredOutput, retries+1, lastErr)
}

// decodeInto decodes s into a new value of out's element type and assigns it
// to out on success.
func decodeInto(s string, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return DecodeJSON(s, out)
	}
	fresh := reflect.New(rv.Elem().Type())
	if err := DecodeJSON(s, fresh.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}

// DecodeJSON extracts the first JSON object from s (tolerating code fences
// and surrounding prose) and decodes it into out.
func DecodeJSON(s string, out any) error {
	raw := ExtractJSON(s)
	if raw == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ExtractJSON returns the first balanced JSON object in response, or "".
func ExtractJSON(response string) string {
	s := stripMarkdownCodeFences(response)
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// stripMarkdownCodeFences removes a ```json ... ``` wrapper if present.
func stripMarkdownCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		firstNewline := strings.Index(trimmed, "\n")
		if firstNewline != -1 {
			lastFence := strings.LastIndex(trimmed, "```")
			if lastFence > firstNewline {
				return strings.TrimSpace(trimmed[firstNewline+1 : lastFence])
			}
		}
	}
	return s
}
