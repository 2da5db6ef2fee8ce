package assistant

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dermassist/internal/geminiservice"
	"dermassist/internal/sheets"
)

/* ====================================================================
                              Stubs
==================================================================== */

type stubProfiles struct {
	profile *sheets.UserProfile
	audit   []sheets.AuditEntry
	err     error
}

func (s *stubProfiles) FetchProfile(context.Context, string) (*sheets.UserProfile, []sheets.AuditEntry, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.profile, s.audit, nil
}

type stubStream struct {
	chunks []string
	pos    int
	err    error // returned after the chunks when set
}

func (s *stubStream) Recv() (string, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *stubStream) Close() error { return nil }

type stubGenerator struct {
	chunks    []string
	streamErr error
	midErr    error

	imageReply string
	imageErr   error

	gotSystemPrompt string
	gotHistory      []geminiservice.Message
	gotUserText     string
}

func (g *stubGenerator) StreamChat(_ context.Context, systemPrompt string, history []geminiservice.Message, userText string) (ReplyStream, error) {
	g.gotSystemPrompt = systemPrompt
	g.gotHistory = history
	g.gotUserText = userText
	if g.streamErr != nil {
		return nil, g.streamErr
	}
	return &stubStream{chunks: g.chunks, err: g.midErr}, nil
}

func (g *stubGenerator) AnalyzeImage(_ context.Context, systemPrompt, _ string, _ []byte, _ string) (string, error) {
	g.gotSystemPrompt = systemPrompt
	return g.imageReply, g.imageErr
}

type stubFinder struct {
	link     string
	gotQuery string
	called   bool
}

func (f *stubFinder) FindProduct(_ context.Context, query string) string {
	f.called = true
	f.gotQuery = query
	return f.link
}

type recordingLogger struct {
	rows []sheets.Interaction
	err  error
}

func (l *recordingLogger) AppendInteraction(_ context.Context, in sheets.Interaction) error {
	l.rows = append(l.rows, in)
	return l.err
}

func newTestService(profiles ProfileSource, gen Generator, finder Searcher, logger TurnLogger) *Service {
	return NewService("test-user", profiles, gen, finder, logger)
}

/* ====================================================================
                          Text turn tests
==================================================================== */

func TestHandleText_EndToEndWithProduct(t *testing.T) {
	profiles := &stubProfiles{
		profile: &sheets.UserProfile{
			UserID:            "test-user",
			BarrierStatus:     "Compromised",
			ActiveMedications: []string{"CNN 50"},
			AvoidIngredients:  []string{"SA Cleansers"},
			CurrentConcerns:   map[string]any{"diagnosis": "irritation"},
		},
	}
	gen := &stubGenerator{chunks: []string{
		"Your cheeks show classic barrier irritation. Keep it gentle.\n",
		"SEARCH: gentle moisturizer ceramide under $25 CAD",
	}}
	finder := &stubFinder{link: "https://amazon.ca/dp/B07TEST"}
	logger := &recordingLogger{}

	svc := newTestService(profiles, gen, finder, logger)

	result := svc.HandleText(context.Background(), "sess-1", "my cheeks are red and itchy", nil)

	wantAnalysis := "Your cheeks show classic barrier irritation. Keep it gentle.\nSEARCH: gentle moisturizer ceramide under $25 CAD"
	assert.Equal(t, wantAnalysis, result.Analysis)
	assert.Equal(t, "gentle moisturizer ceramide under $25 CAD", result.ProductName)
	assert.Equal(t, "https://amazon.ca/dp/B07TEST", result.ProductLink)

	// The profile personalized the system prompt.
	assert.Contains(t, gen.gotSystemPrompt, "SA Cleansers")
	assert.Equal(t, "my cheeks are red and itchy", gen.gotUserText)

	// Exactly one logged row per turn, carrying the whole interaction.
	require.Len(t, logger.rows, 1)
	row := logger.rows[0]
	assert.Equal(t, "test-user", row.UserID)
	assert.Equal(t, InputTypeText, row.InputType)
	assert.Equal(t, "my cheeks are red and itchy", row.Query)
	assert.Equal(t, wantAnalysis, row.Analysis)
	assert.Equal(t, severityWithProduct, row.Severity)
	assert.Equal(t, "gentle moisturizer ceramide under $25 CAD", row.ProductName)
	assert.Equal(t, "https://amazon.ca/dp/B07TEST", row.ProductLink)

	// Transcript: user turn, analysis, product follow-up, in order.
	history := svc.History("sess-1")
	require.Len(t, history, 3)
	assert.Equal(t, ChatRoleUser, history[0].Role)
	assert.Equal(t, "my cheeks are red and itchy", history[0].Content)
	assert.Equal(t, ChatRoleAssistant, history[1].Role)
	assert.Equal(t, wantAnalysis, history[1].Content)
	assert.Contains(t, history[2].Content, "https://amazon.ca/dp/B07TEST")
}

func TestHandleText_NoSentinelSkipsSearch(t *testing.T) {
	gen := &stubGenerator{chunks: []string{"Looks fine. Keep moisturizing."}}
	finder := &stubFinder{link: "https://amazon.ca/dp/B000"}
	logger := &recordingLogger{}

	svc := newTestService(&stubProfiles{}, gen, finder, logger)

	result := svc.HandleText(context.Background(), "sess-1", "quick check", nil)

	assert.False(t, finder.called)
	assert.Empty(t, result.ProductLink)

	require.Len(t, logger.rows, 1)
	assert.Equal(t, severityDefault, logger.rows[0].Severity)
	assert.Empty(t, logger.rows[0].ProductName)
	assert.Empty(t, logger.rows[0].ProductLink)
}

func TestHandleText_SearchMissStillLogsQuery(t *testing.T) {
	gen := &stubGenerator{chunks: []string{"Try this.\nSEARCH: spf 50 under $25 CAD"}}
	finder := &stubFinder{link: ""} // no qualifying result
	logger := &recordingLogger{}

	svc := newTestService(&stubProfiles{}, gen, finder, logger)

	result := svc.HandleText(context.Background(), "sess-1", "sun advice", nil)

	assert.Empty(t, result.ProductLink)
	assert.Empty(t, result.ProductName)

	require.Len(t, logger.rows, 1)
	assert.Equal(t, severityWithProduct, logger.rows[0].Severity)
	assert.Equal(t, "spf 50 under $25 CAD", logger.rows[0].ProductName)
	assert.Empty(t, logger.rows[0].ProductLink)

	// Only the analysis lands in the transcript, no product follow-up.
	assert.Len(t, svc.History("sess-1"), 2)
}

func TestHandleText_GenerationFailureYieldsApology(t *testing.T) {
	gen := &stubGenerator{streamErr: errors.New("503 from upstream")}
	logger := &recordingLogger{}

	svc := newTestService(&stubProfiles{}, gen, &stubFinder{}, logger)

	result := svc.HandleText(context.Background(), "sess-1", "hello", nil)

	assert.Equal(t, apologyMessage, result.Analysis)

	// The turn is still logged.
	require.Len(t, logger.rows, 1)
	assert.Equal(t, apologyMessage, logger.rows[0].Analysis)
	assert.Equal(t, severityDefault, logger.rows[0].Severity)
}

func TestHandleText_MidStreamFailureYieldsApology(t *testing.T) {
	gen := &stubGenerator{
		chunks: []string{"partial "},
		midErr: errors.New("connection reset"),
	}

	svc := newTestService(&stubProfiles{}, gen, &stubFinder{}, &recordingLogger{})

	result := svc.HandleText(context.Background(), "sess-1", "hello", nil)

	assert.Equal(t, apologyMessage, result.Analysis)
}

func TestHandleText_LogFailureNeverPropagates(t *testing.T) {
	gen := &stubGenerator{chunks: []string{"All good."}}
	logger := &recordingLogger{err: errors.New("sheets append failed")}

	svc := newTestService(&stubProfiles{}, gen, &stubFinder{}, logger)

	// The calling flow must complete normally despite the store failure.
	result := svc.HandleText(context.Background(), "sess-1", "hello", nil)

	assert.Equal(t, "All good.", result.Analysis)
	assert.Len(t, svc.History("sess-1"), 2)
}

func TestHandleText_ProfileFailureFallsBackToGenericPrompt(t *testing.T) {
	profiles := &stubProfiles{err: errors.New("sheet unreachable")}
	gen := &stubGenerator{chunks: []string{"Generic advice."}}

	svc := newTestService(profiles, gen, &stubFinder{}, &recordingLogger{})

	result := svc.HandleText(context.Background(), "sess-1", "hello", nil)

	assert.Equal(t, geminiservice.FallbackSystemPrompt, gen.gotSystemPrompt)
	assert.Equal(t, "Generic advice.", result.Analysis)
}

func TestHandleText_ReplaysTranscriptAsHistory(t *testing.T) {
	gen := &stubGenerator{chunks: []string{"First reply."}}
	svc := newTestService(&stubProfiles{}, gen, &stubFinder{}, &recordingLogger{})

	svc.HandleText(context.Background(), "sess-1", "first message", nil)

	gen.chunks = []string{"Second reply."}
	svc.HandleText(context.Background(), "sess-1", "second message", nil)

	// The second call sees exactly the prior transcript, in order.
	require.Len(t, gen.gotHistory, 2)
	assert.Equal(t, geminiservice.RoleUser, gen.gotHistory[0].Role)
	assert.Equal(t, "first message", gen.gotHistory[0].Text)
	assert.Equal(t, geminiservice.RoleModel, gen.gotHistory[1].Role)
	assert.Equal(t, "First reply.", gen.gotHistory[1].Text)
}

func TestHandleText_StreamsChunksToCallback(t *testing.T) {
	gen := &stubGenerator{chunks: []string{"one ", "two ", "three"}}
	svc := newTestService(&stubProfiles{}, gen, &stubFinder{}, &recordingLogger{})

	var streamed []string
	result := svc.HandleText(context.Background(), "sess-1", "hi", func(chunk string) {
		streamed = append(streamed, chunk)
	})

	assert.Equal(t, []string{"one ", "two ", "three"}, streamed)
	assert.Equal(t, "one two three", result.Analysis)
	assert.Equal(t, strings.Join(streamed, ""), result.Analysis)
}

/* ====================================================================
                          Image turn tests
==================================================================== */

func TestHandleImage_LogsImageTurn(t *testing.T) {
	gen := &stubGenerator{imageReply: "Mild irritation on both cheeks."}
	logger := &recordingLogger{}

	svc := newTestService(&stubProfiles{}, gen, &stubFinder{}, logger)

	result := svc.HandleImage(context.Background(), "sess-1", []byte{0x89}, "image/png", "cheeks.png")

	assert.Equal(t, "Mild irritation on both cheeks.", result.Analysis)

	require.Len(t, logger.rows, 1)
	assert.Equal(t, InputTypeImage, logger.rows[0].InputType)
	assert.Equal(t, "(Image: cheeks.png)", logger.rows[0].Query)

	history := svc.History("sess-1")
	require.Len(t, history, 2)
	assert.Equal(t, "(Image: cheeks.png)", history[0].Content)
}

func TestHandleImage_FailureYieldsApology(t *testing.T) {
	gen := &stubGenerator{imageErr: errors.New("image too large")}
	logger := &recordingLogger{}

	svc := newTestService(&stubProfiles{}, gen, &stubFinder{}, logger)

	result := svc.HandleImage(context.Background(), "sess-1", []byte{0x89}, "image/png", "cheeks.png")

	assert.Equal(t, apologyMessage, result.Analysis)
	require.Len(t, logger.rows, 1)
}
