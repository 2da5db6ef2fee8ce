package assistant

import "sync"

// ChatRole tags a transcript entry.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one entry of the in-memory session transcript. The
// transcript is the exact history replayed to the generation endpoint, in
// conversation order.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// SessionStore holds the per-session transcripts. Transcripts live only in
// process memory and disappear when the session is cleared or the process
// exits. The mutex exists because concurrent sessions share the map; within
// one session, turns are sequential.
type SessionStore struct {
	mu          sync.Mutex
	transcripts map[string][]ChatMessage
}

func NewSessionStore() *SessionStore {
	return &SessionStore{transcripts: make(map[string][]ChatMessage)}
}

// History returns a copy of the session transcript in conversation order.
func (s *SessionStore) History(sessionID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	transcript := s.transcripts[sessionID]
	out := make([]ChatMessage, len(transcript))
	copy(out, transcript)
	return out
}

// Append adds messages to the end of the session transcript.
func (s *SessionStore) Append(sessionID string, msgs ...ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[sessionID] = append(s.transcripts[sessionID], msgs...)
}

// Clear ends the session; the transcript is gone.
func (s *SessionStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, sessionID)
}
