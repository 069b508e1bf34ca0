// Package movies enriches a bare title identification with metadata from
// an external movie database.
package movies

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound reports a valid provider response with no usable result,
// as opposed to a failed request.
var ErrNotFound = errors.New("movies: title not found")

const (
	recommendationLimit = 5

	genresUnavailable   = "Not available"
	overviewUnavailable = "Synopsis not available."
	unknownTitle        = "Unknown"
)

// API is the slice of the metadata provider the service needs; satisfied
// by *TMDBClient and by test fakes.
type API interface {
	SearchMulti(ctx context.Context, query string) ([]SearchResult, error)
	Details(ctx context.Context, id int64, mediaType string) (*TitleDetails, error)
	Recommendations(ctx context.Context, id int64, mediaType string) ([]RecommendationResult, error)
}

// Cache stores serialized lookups keyed by id; nil disables caching.
type Cache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

type Service struct {
	api          API
	cache        Cache
	cacheTTL     time.Duration
	imageBaseURL string
	log          *zap.Logger
}

func NewService(api API, cache Cache, cacheTTL time.Duration, imageBaseURL string, log *zap.Logger) *Service {
	if imageBaseURL == "" {
		imageBaseURL = "https://image.tmdb.org/t/p/w500"
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{api: api, cache: cache, cacheTTL: cacheTTL, imageBaseURL: imageBaseURL, log: log}
}

// SearchByTitle resolves a title string to a full record. The top search
// hit may be a person or another unrelated entity; anything that is not a
// movie or tv result counts as not found.
func (s *Service) SearchByTitle(ctx context.Context, title string) (*Movie, error) {
	results, err := s.api.SearchMulti(ctx, title)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	first := results[0]
	if first.MediaType != "movie" && first.MediaType != "tv" {
		s.log.Debug("search top hit has unsupported media type",
			zap.String("query", title), zap.String("media_type", first.MediaType))
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, first.ID, first.MediaType)
}

// GetByID fetches full details for a known provider id.
func (s *Service) GetByID(ctx context.Context, id int64, mediaType string) (*Movie, error) {
	if mediaType == "" {
		mediaType = "movie"
	}

	cacheKey := fmt.Sprintf("movies:details:%s:%d", mediaType, id)
	if s.cache != nil {
		var cached Movie
		if hit, err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	details, err := s.api.Details(ctx, id, mediaType)
	if err != nil {
		return nil, err
	}

	movie := &Movie{
		ID:        details.ID,
		Title:     pickTitle(details.Title, details.Name, mediaType),
		Year:      yearOf(pickDate(details.ReleaseDate, details.FirstAirDate, mediaType)),
		PosterURL: s.posterURL(details.PosterPath),
		Genres:    joinGenres(details),
		Rating:    fmt.Sprintf("%.1f/10", details.VoteAverage),
		Overview:  details.Overview,
		IMDBID:    details.ExternalIDs.IMDBID,
		MediaType: mediaType,
	}
	if movie.Overview == "" {
		movie.Overview = overviewUnavailable
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, movie, s.cacheTTL); err != nil {
			s.log.Warn("movie cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return movie, nil
}

// GetRecommendations returns up to 5 related titles in provider order.
func (s *Service) GetRecommendations(ctx context.Context, id int64, mediaType string) ([]Recommendation, error) {
	if mediaType == "" {
		mediaType = "movie"
	}

	cacheKey := fmt.Sprintf("movies:recs:%s:%d", mediaType, id)
	if s.cache != nil {
		var cached []Recommendation
		if hit, err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
			return cached, nil
		}
	}

	results, err := s.api.Recommendations(ctx, id, mediaType)
	if err != nil {
		return nil, err
	}

	if len(results) > recommendationLimit {
		results = results[:recommendationLimit]
	}
	recs := make([]Recommendation, 0, len(results))
	for _, r := range results {
		mt := r.MediaType
		if mt == "" {
			mt = mediaType
		}
		recs = append(recs, Recommendation{
			ID:        r.ID,
			Title:     pickTitle(r.Title, r.Name, mt),
			Year:      yearOf(pickDate(r.ReleaseDate, r.FirstAirDate, mt)),
			PosterURL: s.posterURL(r.PosterPath),
		})
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, recs, s.cacheTTL); err != nil {
			s.log.Warn("movie cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return recs, nil
}

// posterURL joins the image base with the provider path. TMDB paths carry
// a leading slash, so plain concatenation is correct; an absent path means
// no poster, not an error.
func (s *Service) posterURL(posterPath string) *string {
	if posterPath == "" {
		return nil
	}
	u := s.imageBaseURL + posterPath
	return &u
}

func pickTitle(title, name, mediaType string) string {
	if mediaType == "movie" && title != "" {
		return title
	}
	if name != "" {
		return name
	}
	if title != "" {
		return title
	}
	return unknownTitle
}

func pickDate(releaseDate, firstAirDate, mediaType string) string {
	if mediaType == "movie" {
		return releaseDate
	}
	return firstAirDate
}

func yearOf(date string) string {
	if len(date) < 4 {
		return "N/A"
	}
	return date[:4]
}

func joinGenres(details *TitleDetails) string {
	names := make([]string, 0, len(details.Genres))
	for _, g := range details.Genres {
		names = append(names, g.Name)
	}
	joined := strings.Join(names, ", ")
	if joined == "" {
		return genresUnavailable
	}
	return joined
}
