// Package airesp turns raw model completions into validated, typed
// responses: balanced-brace JSON extraction plus discriminated-union
// validation over the movie/recommendations/text wire format.
package airesp

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

type Type string

const (
	TypeMovie           Type = "movie"
	TypeRecommendations Type = "recommendations"
	TypeText            Type = "text"
)

const maxTitleLen = 200

// MovieRef is the model's bare identification of a title. It is also the
// element type for recommendation lists.
type MovieRef struct {
	Title string `json:"title"`
	Year  string `json:"year"`
}

// Response is the validated model output for one turn. Exactly one of
// Movie, Recommendations, or Text is populated, selected by Type.
type Response struct {
	Type            Type
	Movie           *MovieRef
	Recommendations []MovieRef
	Text            string
}

// envelope is the wire form: {"type": ..., "content": ...}.
type envelope struct {
	Type    *string         `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Parse validates data against the discriminated-union schema and returns
// the typed response. The error names the first violated field.
func Parse(data []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("type: missing required field")
	}
	if len(env.Content) == 0 || string(env.Content) == "null" {
		return nil, fmt.Errorf("content: missing required field")
	}

	r := &Response{Type: Type(*env.Type)}
	switch r.Type {
	case TypeMovie:
		if firstByte(env.Content) != '{' {
			return nil, fmt.Errorf("content: must be an object for type \"movie\"")
		}
		var ref MovieRef
		if err := json.Unmarshal(env.Content, &ref); err != nil {
			return nil, fmt.Errorf("content: invalid movie object: %w", err)
		}
		r.Movie = &ref
	case TypeRecommendations:
		if firstByte(env.Content) != '[' {
			return nil, fmt.Errorf("content: must be a list for type \"recommendations\"")
		}
		var refs []MovieRef
		if err := json.Unmarshal(env.Content, &refs); err != nil {
			return nil, fmt.Errorf("content: invalid recommendations list: %w", err)
		}
		if refs == nil {
			refs = []MovieRef{}
		}
		r.Recommendations = refs
	case TypeText:
		if firstByte(env.Content) != '"' {
			return nil, fmt.Errorf("content: must be a string for type \"text\"")
		}
		var s string
		if err := json.Unmarshal(env.Content, &s); err != nil {
			return nil, fmt.Errorf("content: must be a string for type \"text\"")
		}
		r.Text = s
	default:
		return nil, fmt.Errorf("type: must be one of movie, recommendations, text")
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the per-type invariants on an already-shaped response.
// Re-validating a validated response always succeeds.
func (r *Response) Validate() error {
	switch r.Type {
	case TypeMovie:
		if r.Movie == nil {
			return fmt.Errorf("content: missing required field")
		}
		if n := utf8.RuneCountInString(r.Movie.Title); n == 0 || n > maxTitleLen {
			return fmt.Errorf("content.title: must be between 1 and %d characters", maxTitleLen)
		}
		if utf8.RuneCountInString(r.Movie.Year) != 4 {
			return fmt.Errorf("content.year: must be exactly 4 characters")
		}
	case TypeRecommendations:
		for i, ref := range r.Recommendations {
			if ref.Title == "" {
				return fmt.Errorf("content[%d].title: missing required field", i)
			}
			if ref.Year == "" {
				return fmt.Errorf("content[%d].year: missing required field", i)
			}
		}
	case TypeText:
		// any string is fine, including empty
	default:
		return fmt.Errorf("type: must be one of movie, recommendations, text")
	}
	return nil
}

// MarshalJSON writes the wire envelope. The serialized form round-trips
// through Parse losslessly; stored assistant messages depend on that.
func (r *Response) MarshalJSON() ([]byte, error) {
	var content any
	switch r.Type {
	case TypeMovie:
		content = r.Movie
	case TypeRecommendations:
		if r.Recommendations == nil {
			content = []MovieRef{}
		} else {
			content = r.Recommendations
		}
	case TypeText:
		content = r.Text
	default:
		return nil, fmt.Errorf("airesp: cannot marshal unknown type %q", r.Type)
	}
	return json.Marshal(struct {
		Type    Type `json:"type"`
		Content any  `json:"content"`
	}{Type: r.Type, Content: content})
}

// UnmarshalJSON accepts only payloads that pass full validation.
func (r *Response) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

// firstByte returns the first non-whitespace byte, used to check the JSON
// kind of content before decoding so e.g. a number never passes for a
// string and an object never satisfies a list type.
func firstByte(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
