package movies

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatcine/chatcine/internal/common"
)

// TMDBClient talks to The Movie Database v3 API. All methods return
// *common.Error of kind external_api on transport or HTTP failure; a 2xx
// response with zero results is not an error, callers decide what an
// empty result set means.
type TMDBClient struct {
	BaseURL  string
	APIKey   string
	Language string
	Client   *http.Client
}

func NewTMDBClient(baseURL, apiKey, language string) *TMDBClient {
	if baseURL == "" {
		baseURL = "https://api.themoviedb.org/3"
	}
	if language == "" {
		language = "en-US"
	}
	return &TMDBClient{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Language: language,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type SearchResult struct {
	ID        int64  `json:"id"`
	MediaType string `json:"media_type"`
	Title     string `json:"title"`
	Name      string `json:"name"`
}

type TitleDetails struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	PosterPath   string  `json:"poster_path"`
	VoteAverage  float64 `json:"vote_average"`
	Overview     string  `json:"overview"`
	Genres       []struct {
		Name string `json:"name"`
	} `json:"genres"`
	ExternalIDs struct {
		IMDBID string `json:"imdb_id"`
	} `json:"external_ids"`
}

type RecommendationResult struct {
	ID           int64  `json:"id"`
	MediaType    string `json:"media_type"`
	Title        string `json:"title"`
	Name         string `json:"name"`
	ReleaseDate  string `json:"release_date"`
	FirstAirDate string `json:"first_air_date"`
	PosterPath   string `json:"poster_path"`
}

func (c *TMDBClient) SearchMulti(ctx context.Context, query string) ([]SearchResult, error) {
	var out struct {
		Results []SearchResult `json:"results"`
	}
	params := url.Values{"query": {query}}
	if err := c.get(ctx, "/search/multi", params, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *TMDBClient) Details(ctx context.Context, id int64, mediaType string) (*TitleDetails, error) {
	var out TitleDetails
	params := url.Values{"append_to_response": {"external_ids"}}
	if err := c.get(ctx, fmt.Sprintf("/%s/%d", mediaType, id), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TMDBClient) Recommendations(ctx context.Context, id int64, mediaType string) ([]RecommendationResult, error) {
	var out struct {
		Results []RecommendationResult `json:"results"`
	}
	params := url.Values{"page": {"1"}}
	if err := c.get(ctx, fmt.Sprintf("/%s/%d/recommendations", mediaType, id), params, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *TMDBClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.Client == nil {
		return common.ExternalAPI("movie database client is not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return common.ExternalAPI("movie database API key is not configured")
	}

	params.Set("api_key", c.APIKey)
	params.Set("language", c.Language)
	u := fmt.Sprintf("%s%s?%s", strings.TrimRight(c.BaseURL, "/"), path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return common.ExternalAPI("error contacting the movie database").WithCause(err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return common.ExternalAPI("error contacting the movie database").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return common.ExternalAPI("error contacting the movie database").
			WithCause(fmt.Errorf("tmdb: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return common.ExternalAPI("error contacting the movie database").WithCause(err)
	}
	return nil
}
