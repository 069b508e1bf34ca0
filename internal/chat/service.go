// Package chat implements the turn-by-turn conversation orchestrator:
// resolve a session for the caller's identity, transcribe or hint media,
// persist the user message, build bounded model context, then run the
// model output through extraction, validation and enrichment before
// persisting and returning the reply.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatcine/chatcine/internal/ai"
	"github.com/chatcine/chatcine/internal/airesp"
	"github.com/chatcine/chatcine/internal/common"
	"github.com/chatcine/chatcine/internal/movies"
)

// DefaultHistoryLimit bounds the model context to the most recent
// messages of the session.
const DefaultHistoryLimit = 6

const imageHint = "[The user attached an image or video frame. Identify the movie from it if you can, or ask for more clues.]"

// Enricher is the slice of the movie metadata service the orchestrator
// needs.
type Enricher interface {
	SearchByTitle(ctx context.Context, title string) (*movies.Movie, error)
}

// Transcriber converts an audio attachment to text; empty text with nil
// error means no recognizable speech.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type Service struct {
	repo         *Repo
	provider     ai.Provider
	enricher     Enricher
	transcriber  Transcriber // nil when transcription is unconfigured
	historyLimit int
	log          *zap.Logger
}

func NewService(repo *Repo, provider ai.Provider, enricher Enricher, transcriber Transcriber, historyLimit int, log *zap.Logger) *Service {
	if historyLimit <= 0 || historyLimit > 100 {
		historyLimit = DefaultHistoryLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:         repo,
		provider:     provider,
		enricher:     enricher,
		transcriber:  transcriber,
		historyLimit: historyLimit,
		log:          log,
	}
}

// Attachment is one piece of media sent with a turn.
type Attachment struct {
	Data     []byte
	MIMEType string
}

// TurnInput carries one user turn plus the caller's identity. SessionID
// is an optional explicit session; UserID is set for authenticated
// callers, SessionKey for anonymous callers replaying their token.
type TurnInput struct {
	SessionID  uint64
	UserID     *uint64
	SessionKey string
	Message    string
	Attachment *Attachment
}

// Reply is the final payload for one turn. Content is either the
// validated response content or, after enrichment, the full movie record.
type Reply struct {
	Type    airesp.Type `json:"type"`
	Content any         `json:"content"`
}

// TurnResult is a processed turn. SessionKey is set only when a fresh
// anonymous session was created, so the transport can hand the token back
// to the caller out-of-band from the reply body.
type TurnResult struct {
	Reply              Reply
	SessionID          uint64
	SessionKey         string
	NewSession         bool
	AssistantMessageID uint64
}

// ProcessTurn drives one turn through the full pipeline. Domain errors
// (*common.Error) carry user-safe messages; anything else is an internal
// failure for the boundary to mask.
func (s *Service) ProcessTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	// 1) reject empty turns before any side effect
	if strings.TrimSpace(in.Message) == "" && in.Attachment == nil {
		return nil, common.Validation("empty message or file")
	}

	// 2) resolve or lazily create the session
	sess, freshKey, created, err := s.EnsureSession(ctx, in)
	if err != nil {
		return nil, err
	}

	// 3) media handling; on audio failure nothing has been written yet
	userMessage := strings.TrimSpace(in.Message)
	mediaHint := ""
	if in.Attachment != nil {
		userMessage, mediaHint, err = s.applyAttachment(ctx, in.Attachment, userMessage)
		if err != nil {
			return nil, err
		}
	}

	// 4) persist the user message before calling the model, so the ledger
	// reflects what was sent even if the turn fails later
	userMsg := &Message{SessionID: sess.ID, Role: RoleUser, Content: userMessage}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		return nil, common.Database("failed to store message").WithCause(err)
	}

	// 5) bounded history, chronological, system prompt first
	providerMsgs, err := s.buildContext(ctx, sess.ID, mediaHint)
	if err != nil {
		return nil, err
	}

	// 6) model call
	raw, err := s.provider.Chat(ctx, providerMsgs)
	if err != nil {
		return nil, common.ExternalAPI("error from the AI provider").WithCause(err)
	}

	// 7) extraction; failure is fatal for the turn but user-facing
	jsonStr, ok := airesp.ExtractJSON(raw)
	if !ok {
		s.log.Warn("model output had no extractable JSON",
			zap.Uint64("session_id", sess.ID), zap.Int("raw_len", len(raw)))
		return nil, common.ExternalAPI("problem formatting the AI response")
	}

	// 8) validation, distinct from extraction failure
	resp, err := airesp.Parse([]byte(jsonStr))
	if err != nil {
		return nil, common.Validation("error validating AI response: " + err.Error())
	}

	// 9) canonical "what the model said" record, before enrichment
	encoded, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode validated response: %w", err)
	}
	assistantMsg := &Message{SessionID: sess.ID, Role: RoleAssistant, Content: string(encoded)}
	if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
		return nil, common.Database("failed to store message").WithCause(err)
	}

	result := &TurnResult{
		Reply:              replyFromResponse(resp),
		SessionID:          sess.ID,
		SessionKey:         freshKey,
		NewSession:         created,
		AssistantMessageID: assistantMsg.ID,
	}

	// 10) movie identifications get enriched; the enriched (or apology)
	// version is appended as a second assistant message so the ledger
	// keeps both the model's raw claim and the final reply
	if resp.Type == airesp.TypeMovie && resp.Movie.Title != "" {
		reply, err := s.enrich(ctx, resp.Movie.Title)
		if err != nil {
			return nil, err
		}
		msgID, err := s.appendReply(ctx, sess.ID, reply)
		if err != nil {
			return nil, err
		}
		result.Reply = reply
		result.AssistantMessageID = msgID
	}

	return result, nil
}

func (s *Service) enrich(ctx context.Context, title string) (Reply, error) {
	movie, err := s.enricher.SearchByTitle(ctx, title)
	switch {
	case err == nil:
		return Reply{Type: airesp.TypeMovie, Content: movie}, nil
	case errors.Is(err, movies.ErrNotFound):
		return Reply{
			Type:    airesp.TypeText,
			Content: fmt.Sprintf("I thought it was '%s', but I couldn't find any details.", title),
		}, nil
	default:
		return Reply{}, err
	}
}

func (s *Service) appendReply(ctx context.Context, sessionID uint64, reply Reply) (uint64, error) {
	encoded, err := json.Marshal(reply)
	if err != nil {
		return 0, fmt.Errorf("encode reply: %w", err)
	}
	msg := &Message{SessionID: sessionID, Role: RoleAssistant, Content: string(encoded)}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return 0, common.Database("failed to store message").WithCause(err)
	}
	return msg.ID, nil
}

func (s *Service) applyAttachment(ctx context.Context, a *Attachment, userMessage string) (message, mediaHint string, err error) {
	mime := strings.ToLower(strings.TrimSpace(a.MIMEType))
	switch {
	case strings.HasPrefix(mime, "audio/"):
		if s.transcriber == nil {
			return "", "", common.ExternalAPI("audio transcription is not configured")
		}
		text, err := s.transcriber.Transcribe(ctx, a.Data, a.MIMEType)
		if err != nil {
			return "", "", err
		}
		if text == "" {
			return "", "", common.ExternalAPI("could not understand the audio")
		}
		if userMessage == "" {
			return fmt.Sprintf("Transcribed audio: '%s'.", text), "", nil
		}
		return fmt.Sprintf("Transcribed audio: '%s'.\n\n%s", text, userMessage), "", nil
	case strings.HasPrefix(mime, "image/"), strings.HasPrefix(mime, "video/"):
		// the orchestrator does no media understanding itself; the model
		// gets a hint appended to the current input
		return userMessage, imageHint, nil
	default:
		return "", "", common.Validation("unsupported file type")
	}
}

// buildContext assembles system prompt plus the most recent messages in
// chronological order. The just-persisted user message is part of the
// window; the oldest entries beyond the limit are dropped.
func (s *Service) buildContext(ctx context.Context, sessionID uint64, mediaHint string) ([]ai.Message, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, s.historyLimit)
	if err != nil {
		return nil, common.Database("failed to load history").WithCause(err)
	}

	msgs := make([]ai.Message, 0, len(recentDesc)+1)
	msgs = append(msgs, ai.Message{Role: "system", Content: ai.SystemPrompt})
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}

	if mediaHint != "" && len(msgs) > 1 {
		last := &msgs[len(msgs)-1]
		last.Content = strings.TrimSpace(last.Content + "\n\n" + mediaHint)
	}
	return msgs, nil
}

// EnsureSession resolves the current session for the caller, creating one
// lazily when none exists. An explicit session id that cannot be resolved
// to this identity falls through to identity-based resolution rather than
// failing; a session is never handed to a different identity.
func (s *Service) EnsureSession(ctx context.Context, in TurnInput) (sess *Session, freshKey string, created bool, err error) {
	if in.SessionID != 0 {
		got, err := s.repo.GetSessionByID(ctx, in.SessionID)
		switch {
		case err == nil:
			if sessionMatchesIdentity(got, in) {
				return got, "", false, nil
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, "", false, common.Database("failed to load session").WithCause(err)
		}
	}

	switch {
	case in.UserID != nil:
		got, err := s.repo.LatestSessionForUser(ctx, *in.UserID)
		if err == nil {
			return got, "", false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", false, common.Database("failed to load session").WithCause(err)
		}
		sess = &Session{UserID: in.UserID}
	case in.SessionKey != "":
		got, err := s.repo.GetSessionByKey(ctx, in.SessionKey)
		if err == nil {
			return got, "", false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", false, common.Database("failed to load session").WithCause(err)
		}
		key := in.SessionKey
		sess = &Session{SessionKey: &key}
		freshKey = key
	default:
		key := uuid.NewString()
		sess = &Session{SessionKey: &key}
		freshKey = key
	}

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, "", false, common.Database("failed to create session").WithCause(err)
	}
	s.log.Info("created chat session",
		zap.Uint64("session_id", sess.ID), zap.Bool("anonymous", sess.UserID == nil))
	return sess, freshKey, true, nil
}

// sessionMatchesIdentity guards against an explicit session id resolving
// to another caller's conversation.
func sessionMatchesIdentity(sess *Session, in TurnInput) bool {
	if sess.UserID != nil {
		return in.UserID != nil && *in.UserID == *sess.UserID
	}
	if sess.SessionKey != nil {
		return in.UserID == nil && in.SessionKey == *sess.SessionKey
	}
	return false
}

// CurrentSession resolves the caller's existing session without creating
// one; gorm.ErrRecordNotFound when there is none.
func (s *Service) CurrentSession(ctx context.Context, userID *uint64, sessionKey string) (*Session, error) {
	switch {
	case userID != nil:
		return s.repo.LatestSessionForUser(ctx, *userID)
	case sessionKey != "":
		return s.repo.GetSessionByKey(ctx, sessionKey)
	default:
		return nil, gorm.ErrRecordNotFound
	}
}

// HistoryEntry is one message with assistant content re-hydrated from its
// stored serialized form.
type HistoryEntry struct {
	ID        uint64    `json:"id"`
	Role      string    `json:"role"`
	Content   any       `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// History lists a session's messages newest-first for paging.
func (s *Service) History(ctx context.Context, sessionID uint64, limit int, beforeID uint64) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	msgs, err := s.repo.ListMessages(ctx, sessionID, limit, beforeID)
	if err != nil {
		return nil, common.Database("failed to list messages").WithCause(err)
	}

	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entry := HistoryEntry{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
		if m.Role == RoleAssistant {
			var structured any
			if err := json.Unmarshal([]byte(m.Content), &structured); err == nil {
				entry.Content = structured
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func replyFromResponse(r *airesp.Response) Reply {
	switch r.Type {
	case airesp.TypeMovie:
		return Reply{Type: airesp.TypeMovie, Content: r.Movie}
	case airesp.TypeRecommendations:
		return Reply{Type: airesp.TypeRecommendations, Content: r.Recommendations}
	default:
		return Reply{Type: airesp.TypeText, Content: r.Text}
	}
}

// Jobs

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

// ProcessJob runs a queued turn through the same pipeline as the
// synchronous path and records the outcome on the job row.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	if err := s.repo.UpdateJobStatusRunning(ctx, jobID); err != nil {
		return common.Database("failed to update job").WithCause(err)
	}

	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return common.Database("failed to load job").WithCause(err)
	}

	res, err := s.ProcessTurn(ctx, TurnInput{
		SessionID: job.SessionID,
		UserID:    &job.UserID,
		Message:   job.Prompt,
	})
	if err != nil {
		msg := "internal error"
		if de, ok := common.AsError(err); ok {
			msg = de.Message
		}
		if markErr := s.repo.MarkJobFailed(ctx, jobID, msg); markErr != nil {
			s.log.Error("failed to mark job failed", zap.String("job_id", jobID), zap.Error(markErr))
		}
		return err
	}

	if err := s.repo.MarkJobSucceeded(ctx, jobID, res.AssistantMessageID); err != nil {
		return common.Database("failed to update job").WithCause(err)
	}
	return nil
}
