package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/chatcine/chatcine/internal/ai"
	"github.com/chatcine/chatcine/internal/airesp"
	"github.com/chatcine/chatcine/internal/common"
	"github.com/chatcine/chatcine/internal/movies"
)

type scriptedProvider struct {
	output string
	err    error
	last   []ai.Message
	calls  int
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	p.calls++
	// copy to avoid mutations
	p.last = append([]ai.Message(nil), messages...)
	if p.err != nil {
		return "", p.err
	}
	return p.output, nil
}

type fakeEnricher struct {
	movie     *movies.Movie
	err       error
	lastTitle string
}

func (e *fakeEnricher) SearchByTitle(ctx context.Context, title string) (*movies.Movie, error) {
	_ = ctx
	e.lastTitle = title
	if e.err != nil {
		return nil, e.err
	}
	return e.movie, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	_ = ctx
	_ = audio
	_ = mimeType
	return f.text, f.err
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Message{}, &Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func sessionMessages(t *testing.T, db *gorm.DB, sessionID uint64) []Message {
	t.Helper()
	var msgs []Message
	if err := db.Where("session_id = ?", sessionID).Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("load messages: %v", err)
	}
	return msgs
}

func TestProcessTurn_MovieEnriched(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	prov := &scriptedProvider{
		output: "Here you go!\n```json\n{\"type\": \"movie\", \"content\": {\"title\": \"Inception\", \"year\": \"2010\"}}\n```",
	}
	poster := "https://image.tmdb.org/t/p/w500/abc.jpg"
	enr := &fakeEnricher{movie: &movies.Movie{
		ID:        27205,
		Title:     "Inception",
		Year:      "2010",
		PosterURL: &poster,
		Genres:    "Action, Science Fiction",
		Rating:    "8.4/10",
	}}

	svc := NewService(repo, prov, enr, nil, 0, nil)

	res, err := svc.ProcessTurn(context.Background(), TurnInput{
		Message: "a thief who steals secrets through dreams",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if !res.NewSession || res.SessionKey == "" {
		t.Fatalf("expected fresh anonymous session with key, got new=%v key=%q", res.NewSession, res.SessionKey)
	}
	if enr.lastTitle != "Inception" {
		t.Fatalf("enricher got title %q", enr.lastTitle)
	}
	if res.Reply.Type != airesp.TypeMovie {
		t.Fatalf("reply type = %q", res.Reply.Type)
	}
	movie, ok := res.Reply.Content.(*movies.Movie)
	if !ok {
		t.Fatalf("reply content is %T, want *movies.Movie", res.Reply.Content)
	}
	if movie.ID != 27205 || movie.Rating != "8.4/10" {
		t.Fatalf("unexpected enriched movie: %+v", movie)
	}

	msgs := sessionMessages(t, db, res.SessionID)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (user, assistant, enriched assistant), got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant || msgs[2].Role != RoleAssistant {
		t.Fatalf("unexpected roles: %s %s %s", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
	if !strings.Contains(msgs[1].Content, "\"Inception\"") {
		t.Fatalf("canonical assistant message missing title: %s", msgs[1].Content)
	}
	if !strings.Contains(msgs[2].Content, "8.4/10") {
		t.Fatalf("enriched assistant message missing details: %s", msgs[2].Content)
	}
	if msgs[2].ID != res.AssistantMessageID {
		t.Fatalf("AssistantMessageID = %d, want %d", res.AssistantMessageID, msgs[2].ID)
	}
}

func TestProcessTurn_NoExtractableJSON(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	prov := &scriptedProvider{output: "Sorry, I can only talk about movies."}
	svc := NewService(repo, prov, &fakeEnricher{}, nil, 0, nil)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{Message: "hello"})
	if err == nil {
		t.Fatal("expected error for non-JSON model output")
	}
	if !common.IsKind(err, common.KindExternalAPI) {
		t.Fatalf("error kind = %v, want external_api: %v", err, err)
	}

	// the user message is on the ledger even though the turn failed
	var count int64
	if err := db.Model(&Message{}).Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the user message persisted, got %d", count)
	}
}

func TestProcessTurn_ValidationFailure(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	prov := &scriptedProvider{output: `{"type": "movie", "content": {"title": "Heat", "year": "95"}}`}
	svc := NewService(repo, prov, &fakeEnricher{}, nil, 0, nil)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{Message: "bank heist movie"})
	if err == nil {
		t.Fatal("expected validation error for bad year")
	}
	if !common.IsKind(err, common.KindValidation) {
		t.Fatalf("error kind = %v, want validation: %v", err, err)
	}
	if !strings.Contains(err.Error(), "year") {
		t.Fatalf("error should name the field: %v", err)
	}
}

func TestProcessTurn_EnrichmentMiss(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	prov := &scriptedProvider{output: `{"type": "movie", "content": {"title": "The Obscure Reel", "year": "1971"}}`}
	enr := &fakeEnricher{err: movies.ErrNotFound}
	svc := NewService(repo, prov, enr, nil, 0, nil)

	res, err := svc.ProcessTurn(context.Background(), TurnInput{Message: "old obscure film"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Reply.Type != airesp.TypeText {
		t.Fatalf("reply type = %q, want text apology", res.Reply.Type)
	}
	text, _ := res.Reply.Content.(string)
	if !strings.Contains(text, "The Obscure Reel") {
		t.Fatalf("apology should name the title: %q", text)
	}

	msgs := sessionMessages(t, db, res.SessionID)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[2].Content, "couldn't find any details") {
		t.Fatalf("apology not persisted: %s", msgs[2].Content)
	}
}

func TestProcessTurn_EnrichmentFailurePropagates(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	prov := &scriptedProvider{output: `{"type": "movie", "content": {"title": "Heat", "year": "1995"}}`}
	enr := &fakeEnricher{err: common.ExternalAPI("error contacting the movie database")}
	svc := NewService(repo, prov, enr, nil, 0, nil)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{Message: "bank heist movie"})
	if !common.IsKind(err, common.KindExternalAPI) {
		t.Fatalf("error kind = %v, want external_api", err)
	}
}

func TestProcessTurn_TextPassThrough(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	prov := &scriptedProvider{output: `{"type": "text", "content": "Could you describe the plot?"}`}
	enr := &fakeEnricher{}
	svc := NewService(repo, prov, enr, nil, 0, nil)

	res, err := svc.ProcessTurn(context.Background(), TurnInput{Message: "I forgot the name"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Reply.Type != airesp.TypeText || res.Reply.Content != "Could you describe the plot?" {
		t.Fatalf("unexpected reply: %+v", res.Reply)
	}
	if enr.lastTitle != "" {
		t.Fatal("enricher should not be called for text replies")
	}
	if msgs := sessionMessages(t, db, res.SessionID); len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestProcessTurn_EmptyInputRejectedWithoutWrites(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	svc := NewService(repo, &scriptedProvider{}, &fakeEnricher{}, nil, 0, nil)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{Message: "   "})
	if !common.IsKind(err, common.KindValidation) {
		t.Fatalf("error kind = %v, want validation", err)
	}

	var sessions, messages int64
	db.Model(&Session{}).Count(&sessions)
	db.Model(&Message{}).Count(&messages)
	if sessions != 0 || messages != 0 {
		t.Fatalf("empty input must not write anything: %d sessions, %d messages", sessions, messages)
	}
}

func TestProcessTurn_HistoryWindow(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	prov := &scriptedProvider{output: `{"type": "text", "content": "noted"}`}
	svc := NewService(repo, prov, &fakeEnricher{}, nil, 0, nil)

	key := "test-session-key"
	sess := &Session{SessionKey: &key}
	if err := repo.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		m := &Message{SessionID: sess.ID, Role: role, Content: fmt.Sprintf("msg-%d", i)}
		if err := repo.InsertMessage(context.Background(), m); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}

	_, err := svc.ProcessTurn(context.Background(), TurnInput{SessionKey: key, Message: "latest question"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	// system prompt plus the most recent DefaultHistoryLimit messages,
	// including the turn's own user message
	if len(prov.last) != DefaultHistoryLimit+1 {
		t.Fatalf("context size = %d, want %d", len(prov.last), DefaultHistoryLimit+1)
	}
	if prov.last[0].Role != "system" {
		t.Fatalf("first context message role = %q", prov.last[0].Role)
	}
	if got := prov.last[len(prov.last)-1].Content; got != "latest question" {
		t.Fatalf("last context message = %q", got)
	}
	// chronological order: the window starts after the dropped oldest ones
	if prov.last[1].Content != "msg-5" {
		t.Fatalf("window should start at msg-5, got %q", prov.last[1].Content)
	}
}

func TestProcessTurn_AnonymousSessionReuse(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	prov := &scriptedProvider{output: `{"type": "text", "content": "ok"}`}
	svc := NewService(repo, prov, &fakeEnricher{}, nil, 0, nil)

	first, err := svc.ProcessTurn(context.Background(), TurnInput{Message: "first"})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	second, err := svc.ProcessTurn(context.Background(), TurnInput{SessionKey: first.SessionKey, Message: "second"})
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if second.NewSession || second.SessionID != first.SessionID {
		t.Fatalf("replaying the session key must reuse the session: %+v vs %+v", first, second)
	}
	if msgs := sessionMessages(t, db, first.SessionID); len(msgs) != 4 {
		t.Fatalf("expected 4 messages across both turns, got %d", len(msgs))
	}
}

func TestProcessTurn_SessionNotHandedAcrossIdentities(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	prov := &scriptedProvider{output: `{"type": "text", "content": "ok"}`}
	svc := NewService(repo, prov, &fakeEnricher{}, nil, 0, nil)

	anon, err := svc.ProcessTurn(context.Background(), TurnInput{Message: "anon turn"})
	if err != nil {
		t.Fatalf("anon turn: %v", err)
	}

	// an authenticated caller naming the anonymous session id gets their
	// own session instead
	userID := uint64(42)
	res, err := svc.ProcessTurn(context.Background(), TurnInput{
		SessionID: anon.SessionID,
		UserID:    &userID,
		Message:   "user turn",
	})
	if err != nil {
		t.Fatalf("user turn: %v", err)
	}
	if res.SessionID == anon.SessionID {
		t.Fatal("authenticated caller must not join the anonymous session")
	}
	if msgs := sessionMessages(t, db, anon.SessionID); len(msgs) != 2 {
		t.Fatalf("anonymous session gained messages: %d", len(msgs))
	}
}

func TestProcessTurn_AudioTranscriptionMergesMessage(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	prov := &scriptedProvider{output: `{"type": "text", "content": "ok"}`}
	tr := &fakeTranscriber{text: "what movie has a spinning top"}
	svc := NewService(repo, prov, &fakeEnricher{}, tr, 0, nil)

	res, err := svc.ProcessTurn(context.Background(), TurnInput{
		Attachment: &Attachment{Data: []byte{1, 2, 3}, MIMEType: "audio/webm"},
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	msgs := sessionMessages(t, db, res.SessionID)
	if msgs[0].Content != "Transcribed audio: 'what movie has a spinning top'." {
		t.Fatalf("persisted user message = %q", msgs[0].Content)
	}
}

func TestProcessTurn_AudioUnconfigured(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	svc := NewService(repo, &scriptedProvider{}, &fakeEnricher{}, nil, 0, nil)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{
		Attachment: &Attachment{Data: []byte{1}, MIMEType: "audio/wav"},
	})
	if !common.IsKind(err, common.KindExternalAPI) {
		t.Fatalf("error kind = %v, want external_api", err)
	}

	var messages int64
	db.Model(&Message{}).Count(&messages)
	if messages != 0 {
		t.Fatalf("no message should be written when transcription fails, got %d", messages)
	}
}

func TestProcessTurn_EmptyTranscript(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	tr := &fakeTranscriber{text: ""}
	svc := NewService(repo, &scriptedProvider{}, &fakeEnricher{}, tr, 0, nil)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{
		Attachment: &Attachment{Data: []byte{1}, MIMEType: "audio/ogg"},
	})
	if err == nil || !strings.Contains(err.Error(), "could not understand the audio") {
		t.Fatalf("expected empty-transcript error, got %v", err)
	}
}

func TestProcessTurn_ImageHintAppended(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	prov := &scriptedProvider{output: `{"type": "text", "content": "ok"}`}
	svc := NewService(repo, prov, &fakeEnricher{}, nil, 0, nil)

	res, err := svc.ProcessTurn(context.Background(), TurnInput{
		Message:    "what is this frame from",
		Attachment: &Attachment{Data: []byte{0xFF, 0xD8}, MIMEType: "image/jpeg"},
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	// the hint reaches the model but is not persisted
	last := prov.last[len(prov.last)-1].Content
	if !strings.Contains(last, "attached an image") {
		t.Fatalf("model context missing media hint: %q", last)
	}
	msgs := sessionMessages(t, db, res.SessionID)
	if strings.Contains(msgs[0].Content, "attached an image") {
		t.Fatalf("hint leaked into the stored message: %q", msgs[0].Content)
	}
}

func TestHistory_RehydratesAssistantContent(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	prov := &scriptedProvider{output: `{"type": "recommendations", "content": [{"title": "Heat", "year": "1995"}]}`}
	svc := NewService(repo, prov, &fakeEnricher{}, nil, 0, nil)

	res, err := svc.ProcessTurn(context.Background(), TurnInput{Message: "heist movies like Heat"})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	entries, err := svc.History(context.Background(), res.SessionID, 10, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// newest first; assistant content decodes back to a structure
	if entries[0].Role != RoleAssistant {
		t.Fatalf("first entry role = %q", entries[0].Role)
	}
	if _, ok := entries[0].Content.(map[string]any); !ok {
		t.Fatalf("assistant content not re-hydrated: %T", entries[0].Content)
	}
	if entries[1].Content != "heist movies like Heat" {
		t.Fatalf("user content = %v", entries[1].Content)
	}
}

func TestProcessJob_SucceedsAndFails(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	prov := &scriptedProvider{output: `{"type": "text", "content": "ok"}`}
	svc := NewService(repo, prov, &fakeEnricher{}, nil, 0, nil)

	userID := uint64(7)
	sess := &Session{UserID: &userID}
	if err := repo.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	jobID, err := common.NewULID()
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}
	job := &Job{ID: jobID, UserID: userID, SessionID: sess.ID, Prompt: "async question", Status: JobQueued}
	if err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}

	got, err := repo.GetJobByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobSucceeded || got.ResultMessageID == nil {
		t.Fatalf("job not marked succeeded: %+v", got)
	}

	// failing turn marks the job failed with the domain message
	prov.err = errors.New("upstream down")
	failID, err := common.NewULID()
	if err != nil {
		t.Fatalf("new ulid: %v", err)
	}
	failing := &Job{ID: failID, UserID: userID, SessionID: sess.ID, Prompt: "another", Status: JobQueued}
	if err := repo.CreateJob(context.Background(), failing); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.ProcessJob(context.Background(), failing.ID); err == nil {
		t.Fatal("expected ProcessJob to return the turn error")
	}
	got, err = repo.GetJobByID(context.Background(), failing.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobFailed || got.Error == nil {
		t.Fatalf("job not marked failed: %+v", got)
	}
}
