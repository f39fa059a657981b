package core

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"carebridge-intake/internal/llm"
	"carebridge-intake/internal/session"
	"carebridge-intake/pkg"
)

// defaultRevealInterval paces the character-by-character reveal of the
// assistant reply.  The model call has already completed by the time the
// reveal starts; this is purely presentation pacing.
const defaultRevealInterval = 20 * time.Millisecond

// MediaRef describes one uploaded file accompanying a user turn.  Kind may
// carry the uploader's declared bucket ("drawing" or "photo"); when absent
// the engine falls back to a filename heuristic.
type MediaRef struct {
	Path string
	Kind string
}

// ChatService turns user chat turns into transcript updates, accumulated
// observations and streamed assistant replies.
type ChatService struct {
	LLM llm.Client

	// RevealInterval overrides the reveal pacing; zero means the default.
	// Tests shorten it.
	RevealInterval time.Duration
}

// NewChatService constructs a new ChatService with the given LLM client.
func NewChatService(client llm.Client) *ChatService {
	return &ChatService{LLM: client}
}

// SubmitUserTurn records a user turn (text, media or both) on the session.
// Before onboarding completes this is a no-op that returns the unchanged
// transcript.  Text is appended verbatim to the transcript and space-joined
// onto the running observations; each media file is classified and filed
// into its attachment bucket.
func (s *ChatService) SubmitUserTurn(sess *session.Session, text string, media []MediaRef) ([]pkg.Turn, error) {
	if !sess.Onboarded() {
		return sess.History(), nil
	}
	for _, ref := range media {
		if err := sess.AppendTranscriptTurn(pkg.Turn{Role: pkg.RoleUser, MediaPath: ref.Path}); err != nil {
			return nil, err
		}
		if !isImage(ref.Path) {
			slog.Info("unsupported media type ignored for attachment buckets", "path", ref.Path)
			continue
		}
		kind := session.AttachmentPhoto
		if isDrawing(ref) {
			kind = session.AttachmentDrawing
		}
		if err := sess.RecordAttachment(kind, ref.Path); err != nil {
			return nil, err
		}
	}
	if text != "" {
		if err := sess.AppendTranscriptTurn(pkg.Turn{Role: pkg.RoleUser, Content: text}); err != nil {
			return nil, err
		}
		if err := sess.AppendObservation(text); err != nil {
			return nil, err
		}
	}
	return sess.History(), nil
}

// isImage classifies a file by its declared MIME type rather than by
// filename text.
func isImage(path string) bool {
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	return strings.HasPrefix(mimeType, "image/")
}

// isDrawing decides the drawing-vs-photo bucket.  An explicit declared kind
// from the uploader wins; otherwise fall back to the filename heuristic.
func isDrawing(ref MediaRef) bool {
	switch strings.ToLower(ref.Kind) {
	case string(session.AttachmentDrawing):
		return true
	case string(session.AttachmentPhoto):
		return false
	}
	return strings.Contains(strings.ToLower(ref.Path), "draw")
}

// StreamReply generates the assistant reply for the most recent user turn
// and returns a channel emitting incrementally longer prefixes of it, one
// per pacing interval.  The full reply is appended to the transcript before
// the first increment is emitted, so cancelling the context discards the
// remaining increments without losing the turn.  The channel is closed
// after the final (complete) string.
//
// Model failures never surface to the caller: the reply falls back to a
// fixed empathetic sentence naming the child.
func (s *ChatService) StreamReply(ctx context.Context, sess *session.Session) (<-chan string, error) {
	if !sess.Onboarded() {
		return nil, session.ErrNotOnboarded
	}
	history := sess.History()
	if len(history) == 0 {
		return nil, fmt.Errorf("no conversation turns yet")
	}

	reply := s.generateReply(ctx, sess, history)
	if err := sess.AppendTranscriptTurn(pkg.Turn{Role: pkg.RoleAssistant, Content: reply}); err != nil {
		return nil, err
	}

	interval := s.RevealInterval
	if interval <= 0 {
		interval = defaultRevealInterval
	}
	out := make(chan string)
	go func() {
		defer close(out)
		runes := []rune(reply)
		for i := 1; i <= len(runes); i++ {
			select {
			case <-ctx.Done():
				return
			case out <- string(runes[:i]):
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()
	return out, nil
}

// generateReply selects the latest user turn and calls the model: an image
// turn gets a fixed analysis prompt naming the child, a text turn gets the
// full accumulated history.
func (s *ChatService) generateReply(ctx context.Context, sess *session.Session, history []pkg.Turn) string {
	child := sess.Child()

	var last pkg.Turn
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == pkg.RoleUser {
			last = history[i]
			break
		}
	}

	if last.MediaPath != "" {
		reply, err := s.LLM.Chat(ctx, []llm.Message{{
			Role:      "user",
			Content:   fmt.Sprintf(imageAnalysisPrompt, child.Name),
			ImagePath: last.MediaPath,
		}})
		if err != nil || reply == "" {
			slog.Warn("image analysis failed, using fallback", "error", err)
			return fmt.Sprintf(imageFallback, child.Name)
		}
		return reply
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: SystemPrompt})
	for _, t := range history {
		if t.Content == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	reply, err := s.LLM.Chat(ctx, messages)
	if err != nil || reply == "" {
		slog.Warn("chat completion failed, using fallback", "error", err)
		return fmt.Sprintf(textFallback, child.Name)
	}
	return reply
}
