package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatcine/chatcine/internal/chat"
	"github.com/chatcine/chatcine/internal/common"
	"github.com/chatcine/chatcine/internal/config"
	"github.com/chatcine/chatcine/internal/movies"
	"github.com/chatcine/chatcine/internal/store/rabbitmq"
)

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	Log      *zap.Logger
	ChatSvc  *chat.Service
	MovieSvc *movies.Service
	Rabbit   *rabbitmq.Publisher // nil disables the async endpoints
}

func NewHandler(db *gorm.DB, cfg config.Config, log *zap.Logger, chatSvc *chat.Service, movieSvc *movies.Service, rabbit *rabbitmq.Publisher) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		DB:       db,
		Cfg:      cfg,
		Log:      log,
		ChatSvc:  chatSvc,
		MovieSvc: movieSvc,
		Rabbit:   rabbit,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) requestLog(c *gin.Context) *zap.Logger {
	return h.Log.With(zap.String("request_id", c.GetString("request_id")))
}

// failDomain maps a domain error onto the envelope; anything that is not
// a *common.Error becomes an opaque 500.
func failDomain(c *gin.Context, err error) {
	if de, ok := common.AsError(err); ok {
		common.Fail(c, de.Status(), domainCode(de.Kind), de.Message)
		return
	}
	common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
}

func domainCode(k common.Kind) int {
	switch k {
	case common.KindValidation:
		return 10001
	case common.KindNotFound:
		return 40400
	case common.KindAuthentication:
		return 40100
	case common.KindAuthorization:
		return 40300
	case common.KindExternalAPI:
		return 50201
	case common.KindDatabase:
		return 50002
	default:
		return 50000
	}
}
