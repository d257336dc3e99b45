package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GeminiProvider implements Provider for the Gemini generateContent /
// streamGenerateContent API. Unlike the OpenAI and Anthropic wire formats,
// Gemini enforces a strict conversation grammar (role alternation,
// functionCall/functionResponse pairing) and never assigns its own IDs to
// tool calls, so this adapter carries extra sanitation the other two don't
// need.
type GeminiProvider struct {
	name        string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

func NewGemini(name, model, apiKey string, temperature float64) *GeminiProvider {
	return &GeminiProvider{
		name:        name,
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{},
	}
}

func (p *GeminiProvider) Name() string { return p.name }

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiPart struct {
	Text             string                `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall   `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResponse   `json:"functionResponse,omitempty"`
	Thought          bool                  `json:"thought,omitempty"`
	ThoughtSignature string                `json:"thoughtSignature,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFuncResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role"` // "user" or "model"
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiToolDeclaration struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiToolDeclaration `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
}

// geminiPendingCall tracks a tool call awaiting a synthetic ID: Gemini never
// issues one, so the dispatcher needs an ID to pair the eventual
// functionResponse back to this call.
type geminiPendingCall struct {
	id   string
	name string
}

func (p *GeminiProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	req, err := p.buildRequest(messages, tools)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", geminiBaseURL, p.model, p.apiKey)
	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      url,
		body:     body,
		provider: p.name,
		model:    p.model,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseGeminiSSEStream(ctx, reader, ch)
	}()
	return ch, nil
}

// buildRequest converts provider-agnostic messages into Gemini's contents
// array, running the sanitation passes Gemini's grammar requires:
//
//  1. system messages are hoisted into SystemInstruction, never sent as a
//     content turn.
//  2. assistant role is renamed to "model"; tool role becomes a "user" turn
//     carrying a functionResponse part.
//  3. consecutive same-role turns are merged — Gemini rejects back-to-back
//     "user" or "model" turns.
//  4. a tool result whose call is not in the history (e.g. after
//     compression) is dropped rather than sent as an orphaned
//     functionResponse. A functionCall with no matching result is still
//     sent; it is not dropped.
func (p *GeminiProvider) buildRequest(messages []Message, tools []Tool) (geminiRequest, error) {
	var systemParts []string
	var contents []geminiContent
	pending := map[string]string{} // tool_call_id -> function name

	for _, m := range messages {
		switch m.Role {
		case roleSystem:
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}
		case "assistant":
			var parts []geminiPart
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				parts = append(parts, geminiPart{
					FunctionCall:     &geminiFunctionCall{Name: tc.Name, Args: args},
					ThoughtSignature: tc.ThoughtSignature,
				})
				pending[tc.ID] = tc.Name
			}
			if len(parts) == 0 {
				continue
			}
			contents = appendGeminiTurn(contents, "model", parts)
		case "tool":
			name := m.FunctionName
			if name == "" {
				name = pending[m.ToolCallID]
			}
			if name == "" {
				// No matching call in history (e.g. after compression);
				// decline gracefully instead of sending an orphaned response.
				continue
			}
			delete(pending, m.ToolCallID)
			resp := json.RawMessage(m.Content)
			if !json.Valid(resp) {
				b, _ := json.Marshal(map[string]string{"result": m.Content})
				resp = b
			}
			part := geminiPart{FunctionResponse: &geminiFuncResponse{Name: name, Response: resp}}
			contents = appendGeminiTurn(contents, "user", []geminiPart{part})
		default:
			if m.Content == "" {
				continue
			}
			contents = appendGeminiTurn(contents, "user", []geminiPart{{Text: m.Content}})
		}
	}

	contents = ensureGeminiStartsWithUser(contents)

	req := geminiRequest{
		Contents:         contents,
		GenerationConfig: &geminiGenerationConfig{Temperature: p.temperature},
	}
	if len(systemParts) > 0 {
		req.SystemInstruction = &geminiContent{Role: "user", Parts: []geminiPart{{Text: strings.Join(systemParts, "\n\n")}}}
	}
	if len(tools) > 0 {
		req.Tools = []geminiToolDeclaration{{FunctionDeclarations: toGeminiFunctionDeclarations(tools)}}
	}
	return req, nil
}

// ensureGeminiStartsWithUser prepends a synthetic user turn when contents
// is empty or its first turn isn't "user": Gemini rejects a request whose
// conversation doesn't open with a user turn outright rather than
// tolerating it, and the context-folding pass upstream can legitimately
// leave a "model" turn (e.g. a tool call) at position zero after trimming.
func ensureGeminiStartsWithUser(contents []geminiContent) []geminiContent {
	if len(contents) > 0 && contents[0].Role == "user" {
		return contents
	}
	synthetic := geminiContent{Role: "user", Parts: []geminiPart{{Text: "(continuing the conversation above)"}}}
	return append([]geminiContent{synthetic}, contents...)
}

// appendGeminiTurn merges into the previous turn when it has the same role
// (Gemini's strict alternation requirement), otherwise starts a new turn.
func appendGeminiTurn(contents []geminiContent, role string, parts []geminiPart) []geminiContent {
	if len(contents) > 0 && contents[len(contents)-1].Role == role {
		contents[len(contents)-1].Parts = append(contents[len(contents)-1].Parts, parts...)
		return contents
	}
	return append(contents, geminiContent{Role: role, Parts: parts})
}

// toGeminiFunctionDeclarations converts tool schemas to Gemini's format.
// Gemini's OpenAPI-subset schema wants the "type" enum uppercased
// ("OBJECT" not "object"); convertGeminiSchema performs that pass recursively.
func toGeminiFunctionDeclarations(tools []Tool) []geminiFunctionDeclaration {
	result := make([]geminiFunctionDeclaration, len(tools))
	for i, t := range tools {
		result[i] = geminiFunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertGeminiSchema(t.Parameters),
		}
	}
	return result
}

// convertGeminiSchema uppercases "type" values and ensures object schemas
// carry a non-nil properties map, since Gemini rejects a bare {"type":"object"}.
func convertGeminiSchema(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return json.RawMessage(`{"type":"OBJECT","properties":{}}`)
	}
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil {
		return schema
	}
	uppercaseSchemaTypes(m)
	if t, _ := m["type"].(string); t == "OBJECT" {
		if _, ok := m["properties"]; !ok {
			m["properties"] = map[string]any{}
		}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return schema
	}
	return out
}

func uppercaseSchemaTypes(v any) {
	switch n := v.(type) {
	case map[string]any:
		if t, ok := n["type"].(string); ok {
			n["type"] = strings.ToUpper(t)
		}
		for _, child := range n {
			uppercaseSchemaTypes(child)
		}
	case []any:
		for _, child := range n {
			uppercaseSchemaTypes(child)
		}
	}
}

// parseGeminiSSEStream reads Gemini streamGenerateContent SSE events, each
// data: line carrying one full geminiResponse JSON object (Gemini does not
// send incremental deltas the way OpenAI/Anthropic do — each chunk is a
// complete candidate so far).
func parseGeminiSSEStream(ctx context.Context, reader io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	toolCallCount := 0

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}

		var resp geminiResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			log.Warn().Err(err).Msg("Failed to parse gemini SSE chunk")
			continue
		}
		if resp.UsageMetadata != nil {
			trySend(ctx, ch, StreamEvent{
				Type:         EventUsage,
				InputTokens:  resp.UsageMetadata.PromptTokenCount,
				OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			})
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.FinishReason == "MALFORMED_FUNCTION_CALL" {
			// The model attempted a tool call it could not serialize.
			// Surface it as plain text so the turn still produces
			// something the caller can show, rather than erroring out.
			trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: "(model attempted a malformed function call and was asked to retry)"})
			continue
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				idx := toolCallCount
				toolCallCount++
				id := "gemini-" + uuid.NewString()
				args := part.FunctionCall.Args
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				if !trySend(ctx, ch, StreamEvent{
					Type: EventToolCallBegin, ToolCallIndex: idx,
					ToolCallID: id, ToolCallName: part.FunctionCall.Name,
					ToolCallSignature: part.ThoughtSignature,
				}) {
					return
				}
				if !trySend(ctx, ch, StreamEvent{
					Type: EventToolCallDelta, ToolCallIndex: idx,
					ToolCallArgs: string(args),
				}) {
					return
				}
			case part.Thought:
				if part.Text != "" {
					trySend(ctx, ch, StreamEvent{Type: EventReasoningDelta, Content: part.Text})
				}
			case part.Text != "":
				trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: part.Text})
			}
		}
	}

	if err := scanner.Err(); err != nil {
		trySend(ctx, ch, StreamEvent{Type: EventError, Err: err})
		return
	}
	trySend(ctx, ch, StreamEvent{Type: EventDone})
}

func (p *GeminiProvider) ListModels(ctx context.Context) ([]Model, error) {
	url := fmt.Sprintf("%s/models?key=%s", geminiBaseURL, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list models status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var listResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, err
	}
	models := make([]Model, len(listResp.Models))
	for i, m := range listResp.Models {
		models[i] = Model{Name: strings.TrimPrefix(m.Name, "models/")}
	}
	return models, nil
}

func (p *GeminiProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}
