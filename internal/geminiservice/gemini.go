/*
Package geminiservice talks to the Gemini generative-language REST endpoint.
It carries the full role-tagged chat history on every call and exposes the
streamed reply as a consumable sequence of text fragments. Calls are one-shot:
a failed call surfaces as an error and the caller substitutes the fixed
apology, nothing is retried.
*/
package geminiservice

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	geminiAPIBase  = "https://generativelanguage.googleapis.com/v1beta/models"
	requestTimeout = 60 * time.Second

	// sseDataPrefix marks payload lines in the streamGenerateContent response.
	sseDataPrefix = "data: "
)

// Role tags a chat turn. The Gemini wire format calls the assistant "model".
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one prior turn of the conversation.
type Message struct {
	Role Role
	Text string
}

// --- Structs for Gemini API Request/Response ---

type geminiPayload struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// text concatenates the text parts of the first candidate.
func (r geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

// Client calls one Gemini model with one API key.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	httpc   *http.Client
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: geminiAPIBase,
		httpc:   &http.Client{Timeout: requestTimeout},
	}
}

// StreamChat sends the system prompt, the ordered prior history, and the new
// user message, and returns the reply as a stream of text fragments.
func (c *Client) StreamChat(ctx context.Context, systemPrompt string, history []Message, userText string) (*Stream, error) {
	contents := make([]geminiContent, 0, len(history)+1)
	for _, msg := range history {
		contents = append(contents, geminiContent{
			Role:  string(msg.Role),
			Parts: []geminiPart{{Text: msg.Text}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  string(RoleUser),
		Parts: []geminiPart{{Text: userText}},
	})

	payload := geminiPayload{
		Contents: contents,
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		},
	}

	endpoint := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)

	resp, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	// Single chunks can carry long paragraphs, well past the default line cap.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &Stream{body: resp.Body, scanner: scanner}, nil
}

// AnalyzeImage sends inline image bytes with a declared content type and
// returns the single complete analysis text.
func (c *Client) AnalyzeImage(ctx context.Context, systemPrompt, instruction string, image []byte, mimeType string) (string, error) {
	payload := geminiPayload{
		Contents: []geminiContent{{
			Role: string(RoleUser),
			Parts: []geminiPart{
				{Text: instruction},
				{InlineData: &geminiBlob{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		},
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	resp, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	text := parsed.text()
	if text == "" {
		return "", fmt.Errorf("no content found in Gemini response")
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload geminiPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Info().Str("model", c.model).Msg("Calling Gemini API...")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API returned non-200 status: %s, Body: %s", resp.Status, string(respBody))
	}

	return resp, nil
}

// Stream yields the reply text fragment by fragment. It is finite and
// non-restartable: once Recv returns io.EOF the reply is complete.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Recv returns the next text fragment, or io.EOF when the reply is complete.
func (s *Stream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, sseDataPrefix)), &chunk); err != nil {
			return "", fmt.Errorf("failed to decode stream chunk: %w", err)
		}

		// Chunks that only carry metadata (safety ratings, usage) have no text.
		if text := chunk.text(); text != "" {
			return text, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read failed: %w", err)
	}
	return "", io.EOF
}

// Close releases the underlying connection. Safe to call after io.EOF.
func (s *Stream) Close() error {
	return s.body.Close()
}
