package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chatcine/chatcine/internal/common"
	"github.com/chatcine/chatcine/internal/movies"
)

func movieIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		common.Fail(c, http.StatusBadRequest, 10005, "invalid movie id")
		return 0, false
	}
	return id, true
}

func mediaTypeQuery(c *gin.Context) (string, bool) {
	mt := c.DefaultQuery("media_type", "movie")
	if mt != "movie" && mt != "tv" {
		common.Fail(c, http.StatusBadRequest, 10006, "media_type must be movie or tv")
		return "", false
	}
	return mt, true
}

func (h *Handler) GetMovie(c *gin.Context) {
	id, okk := movieIDParam(c)
	if !okk {
		return
	}
	mt, okk := mediaTypeQuery(c)
	if !okk {
		return
	}

	movie, err := h.MovieSvc.GetByID(c.Request.Context(), id, mt)
	if err != nil {
		if errors.Is(err, movies.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "movie not found")
			return
		}
		failDomain(c, err)
		return
	}
	common.OK(c, movie)
}

func (h *Handler) GetMovieRecommendations(c *gin.Context) {
	id, okk := movieIDParam(c)
	if !okk {
		return
	}
	mt, okk := mediaTypeQuery(c)
	if !okk {
		return
	}

	recs, err := h.MovieSvc.GetRecommendations(c.Request.Context(), id, mt)
	if err != nil {
		failDomain(c, err)
		return
	}
	common.OK(c, gin.H{"recommendations": recs})
}
