package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatcine/chatcine/internal/chat"
	"github.com/chatcine/chatcine/internal/common"
	"github.com/chatcine/chatcine/internal/httpapi/middleware"
)

const (
	sessionCookie    = "chatcine_session"
	sessionKeyHeader = "X-Chat-Session"

	// uploads are short voice notes or single frames
	maxUploadBytes = 16 << 20
)

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func optionalUserID(c *gin.Context) *uint64 {
	if id, ok := userIDFromContext(c); ok {
		return &id
	}
	return nil
}

// sessionKeyFromRequest reads the anonymous session token from the cookie
// or, for clients that cannot carry cookies, the header.
func sessionKeyFromRequest(c *gin.Context) string {
	if v, err := c.Cookie(sessionCookie); err == nil && v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader(sessionKeyHeader))
}

// failTurn writes the conversational error shape: validation problems are
// type "error", everything else degrades to a spoken-style text reply.
func (h *Handler) failTurn(c *gin.Context, err error) {
	if de, ok := common.AsError(err); ok {
		kind := "text"
		if de.Kind == common.KindValidation {
			kind = "error"
		}
		c.JSON(de.Status(), gin.H{"type": kind, "content": de.Message})
		return
	}
	h.requestLog(c).Error("turn failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"type":    "text",
		"content": "Sorry, an unexpected error occurred.",
	})
}

// SendTurn handles one conversational turn: multipart form with an
// optional "message" field and an optional "file" attachment.
func (h *Handler) SendTurn(c *gin.Context) {
	in := chat.TurnInput{
		UserID:     optionalUserID(c),
		SessionKey: sessionKeyFromRequest(c),
		Message:    c.PostForm("message"),
	}
	if v := c.PostForm("session_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			in.SessionID = n
		}
	}

	if fh, err := c.FormFile("file"); err == nil {
		if fh.Size > maxUploadBytes {
			h.failTurn(c, common.Validation("file too large"))
			return
		}
		f, err := fh.Open()
		if err != nil {
			h.failTurn(c, common.Validation("unreadable file"))
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
		_ = f.Close()
		if err != nil || int64(len(data)) > maxUploadBytes {
			h.failTurn(c, common.Validation("unreadable file"))
			return
		}
		in.Attachment = &chat.Attachment{
			Data:     data,
			MIMEType: fh.Header.Get("Content-Type"),
		}
	}

	res, err := h.ChatSvc.ProcessTurn(c.Request.Context(), in)
	if err != nil {
		h.failTurn(c, err)
		return
	}

	if res.NewSession && res.SessionKey != "" {
		c.SetCookie(sessionCookie, res.SessionKey, 60*60*24*30, "/", "", false, true)
		c.Header(sessionKeyHeader, res.SessionKey)
	}

	c.JSON(http.StatusOK, res.Reply)
}

// SendTurnAsync enqueues a turn for the background worker; authenticated
// callers only, since the job result is fetched later by the same user.
func (h *Handler) SendTurnAsync(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if h.Rabbit == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "async processing is not configured")
		return
	}

	type reqBody struct {
		Message string `json:"message" binding:"required"`
	}
	var req reqBody
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	sess, _, _, err := h.ChatSvc.EnsureSession(c.Request.Context(), chat.TurnInput{UserID: &uid})
	if err != nil {
		failDomain(c, err)
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j := &chat.Job{
		ID:             jobID,
		UserID:         uid,
		SessionID:      sess.ID,
		Prompt:         req.Message,
		IdempotencyKey: idempoKeyPtr,
		Status:         chat.JobQueued,
	}
	j, created, err := h.ChatSvc.CreateJobOrGetExisting(c.Request.Context(), j)
	if err != nil {
		h.requestLog(c).Error("create job", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Rabbit.PublishTurnJob(c.Request.Context(), j.ID); err != nil {
			h.requestLog(c).Error("publish job", zap.String("job_id", j.ID), zap.Error(err))
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": j.ID, "session_id": sess.ID})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.ChatSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":                j.ID,
			"session_id":        j.SessionID,
			"status":            j.Status,
			"result_message_id": j.ResultMessageID,
			"error":             j.Error,
			"created_at":        j.CreatedAt,
			"updated_at":        j.UpdatedAt,
		},
	})
}

// GetChatHistory lists the caller's current session newest-first.
func (h *Handler) GetChatHistory(c *gin.Context) {
	userID := optionalUserID(c)
	sessionKey := sessionKeyFromRequest(c)

	sess, err := h.ChatSvc.CurrentSession(c.Request.Context(), userID, sessionKey)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.OK(c, gin.H{"messages": []any{}, "next_before_id": 0})
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	entries, err := h.ChatSvc.History(c.Request.Context(), sess.ID, limit, beforeID)
	if err != nil {
		failDomain(c, err)
		return
	}

	var nextBeforeID uint64
	if len(entries) > 0 {
		nextBeforeID = entries[len(entries)-1].ID
	}
	common.OK(c, gin.H{
		"session_id":     sess.ID,
		"messages":       entries,
		"next_before_id": nextBeforeID,
	})
}
