/*
Package assistant orchestrates one chat turn: profile-driven prompt
construction, the generation call, sentinel parsing, the optional product
search, and the interaction log append. Every external failure inside a turn
is recovered locally; a turn always completes with something to show the user.
*/
package assistant

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"dermassist/internal/geminiservice"
	"dermassist/internal/sheets"
)

// apologyMessage replaces the assistant reply when the generation call fails.
const apologyMessage = "Sorry, I encountered an error."

// InputType values recorded in the interaction log.
const (
	InputTypeText  = "text"
	InputTypeImage = "image"
)

// Severity recorded per turn: higher when the model asked for a product
// lookup, the signal that the issue needed intervention.
const (
	severityDefault     = 3
	severityWithProduct = 5
)

// ProfileSource serves the cached profile read for prompt construction.
type ProfileSource interface {
	FetchProfile(ctx context.Context, userID string) (*sheets.UserProfile, []sheets.AuditEntry, error)
}

// ReplyStream is a finite, non-restartable sequence of reply fragments.
type ReplyStream interface {
	Recv() (string, error)
	Close() error
}

// Generator is the conversational client port.
type Generator interface {
	StreamChat(ctx context.Context, systemPrompt string, history []geminiservice.Message, userText string) (ReplyStream, error)
	AnalyzeImage(ctx context.Context, systemPrompt, instruction string, image []byte, mimeType string) (string, error)
}

// Searcher resolves a product query to a deep link, empty when none qualifies.
type Searcher interface {
	FindProduct(ctx context.Context, query string) string
}

// TurnLogger appends one row per turn to the persistent log.
type TurnLogger interface {
	AppendInteraction(ctx context.Context, in sheets.Interaction) error
}

// geminiGenerator adapts the concrete Gemini client to the Generator port.
type geminiGenerator struct {
	client *geminiservice.Client
}

func NewGeminiGenerator(client *geminiservice.Client) Generator {
	return geminiGenerator{client: client}
}

func (g geminiGenerator) StreamChat(ctx context.Context, systemPrompt string, history []geminiservice.Message, userText string) (ReplyStream, error) {
	return g.client.StreamChat(ctx, systemPrompt, history, userText)
}

func (g geminiGenerator) AnalyzeImage(ctx context.Context, systemPrompt, instruction string, image []byte, mimeType string) (string, error) {
	return g.client.AnalyzeImage(ctx, systemPrompt, instruction, image, mimeType)
}

// TurnResult is what a completed turn hands to the transport layer.
type TurnResult struct {
	Analysis    string `json:"analysis"`
	ProductName string `json:"product_name,omitempty"`
	ProductLink string `json:"product_link,omitempty"`
}

// Service runs the turn workflow for the configured user.
type Service struct {
	userID   string
	profiles ProfileSource
	llm      Generator
	finder   Searcher
	logger   TurnLogger
	sessions *SessionStore
}

func NewService(userID string, profiles ProfileSource, llm Generator, finder Searcher, logger TurnLogger) *Service {
	return &Service{
		userID:   userID,
		profiles: profiles,
		llm:      llm,
		finder:   finder,
		logger:   logger,
		sessions: NewSessionStore(),
	}
}

// History exposes the session transcript for the transport layer.
func (s *Service) History(sessionID string) []ChatMessage {
	return s.sessions.History(sessionID)
}

// ClearSession ends a session and drops its transcript.
func (s *Service) ClearSession(sessionID string) {
	s.sessions.Clear(sessionID)
}

// HandleText runs one text turn. onChunk, when non-nil, receives each reply
// fragment as it arrives so the transport can stream it; the full reply is
// still assembled here. The turn never fails: generation errors become the
// fixed apology and are logged like any other turn.
func (s *Service) HandleText(ctx context.Context, sessionID, text string, onChunk func(string)) *TurnResult {
	systemPrompt := s.systemPrompt(ctx)
	history := toGeminiHistory(s.sessions.History(sessionID))

	analysis := s.generate(ctx, systemPrompt, history, text, onChunk)

	s.sessions.Append(sessionID, ChatMessage{Role: ChatRoleUser, Content: text})
	return s.finishTurn(ctx, sessionID, InputTypeText, text, analysis)
}

// HandleImage runs one image-analysis turn: a single complete result, no
// fragment stream.
func (s *Service) HandleImage(ctx context.Context, sessionID string, image []byte, mimeType, filename string) *TurnResult {
	systemPrompt := s.systemPrompt(ctx)

	analysis, err := s.llm.AnalyzeImage(ctx, systemPrompt, geminiservice.ImageInstruction, image, mimeType)
	if err != nil {
		log.Error().Err(err).Msg("Gemini image analysis failed")
		analysis = apologyMessage
	}

	query := fmt.Sprintf("(Image: %s)", filename)
	s.sessions.Append(sessionID, ChatMessage{Role: ChatRoleUser, Content: query})
	return s.finishTurn(ctx, sessionID, InputTypeImage, query, analysis)
}

// systemPrompt builds the personalized prompt, degrading to the generic
// fallback when the profile read fails. The store caches reads, so this does
// not hit the sheet on every turn.
func (s *Service) systemPrompt(ctx context.Context) string {
	profile, audit, err := s.profiles.FetchProfile(ctx, s.userID)
	if err != nil {
		log.Warn().Err(err).Msg("Profile unavailable, using generic prompt")
		return geminiservice.FallbackSystemPrompt
	}
	return geminiservice.BuildSystemPrompt(profile, audit)
}

// generate drains the reply stream into the full analysis text. Any failure,
// before or mid-stream, yields the fixed apology instead.
func (s *Service) generate(ctx context.Context, systemPrompt string, history []geminiservice.Message, text string, onChunk func(string)) string {
	stream, err := s.llm.StreamChat(ctx, systemPrompt, history, text)
	if err != nil {
		log.Error().Err(err).Msg("Gemini chat call failed")
		return apologyMessage
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Error().Err(err).Msg("Gemini stream failed mid-reply")
			return apologyMessage
		}
		full.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return full.String()
}

// finishTurn parses the sentinel, resolves the product, logs the turn, and
// appends the assistant side of the transcript.
func (s *Service) finishTurn(ctx context.Context, sessionID, inputType, query, analysis string) *TurnResult {
	result := &TurnResult{Analysis: analysis}

	interaction := sheets.Interaction{
		UserID:    s.userID,
		InputType: inputType,
		Query:     query,
		Analysis:  analysis,
		Severity:  severityDefault,
	}

	if searchQuery, ok := ExtractSearchQuery(analysis); ok {
		interaction.Severity = severityWithProduct
		interaction.ProductName = searchQuery

		if link := s.finder.FindProduct(ctx, searchQuery); link != "" {
			interaction.ProductLink = link
			result.ProductName = searchQuery
			result.ProductLink = link
		}
	}

	s.logTurn(ctx, interaction)

	s.sessions.Append(sessionID, ChatMessage{Role: ChatRoleAssistant, Content: analysis})
	if result.ProductLink != "" {
		s.sessions.Append(sessionID, ChatMessage{
			Role:    ChatRoleAssistant,
			Content: fmt.Sprintf("I found a product for you: %s", result.ProductLink),
		})
	}

	return result
}

// logTurn appends the interaction row. A lost log entry is accepted data
// loss: the failure is warned about and the turn completes normally.
func (s *Service) logTurn(ctx context.Context, in sheets.Interaction) {
	if err := s.logger.AppendInteraction(ctx, in); err != nil {
		log.Warn().Err(err).Msg("Failed to log interaction to sheet")
	}
}

func toGeminiHistory(msgs []ChatMessage) []geminiservice.Message {
	out := make([]geminiservice.Message, 0, len(msgs))
	for _, m := range msgs {
		role := geminiservice.RoleUser
		if m.Role == ChatRoleAssistant {
			role = geminiservice.RoleModel
		}
		out = append(out, geminiservice.Message{Role: role, Text: m.Content})
	}
	return out
}
