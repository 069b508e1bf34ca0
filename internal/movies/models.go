package movies

// Movie is the canonical enriched record for one identified title. It is
// produced only by this package, never accepted from user input, and its
// serialized form is what replaces the model's bare identification inside
// an assistant message after enrichment.
type Movie struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Year      string  `json:"year"`
	PosterURL *string `json:"poster_url"`
	Genres    string  `json:"genres"`
	Rating    string  `json:"rating"`
	Overview  string  `json:"overview"`
	IMDBID    string  `json:"imdb_id,omitempty"`
	MediaType string  `json:"media_type"`
}

// Recommendation is the lighter, list-only sibling of Movie.
type Recommendation struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Year      string  `json:"year"`
	PosterURL *string `json:"poster_url"`
}
