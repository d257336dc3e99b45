package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const roleSystem = "system"

// ListStyle selects how ListModels discovers available models for an
// OpenAI-shaped backend. Ollama exposes /api/tags with its own schema;
// everything else that speaks the OpenAI Chat Completions wire format
// exposes /models.
type ListStyle int

const (
	// ListStyleOpenAI calls GET {baseURL}/models and expects the standard
	// {"data": [{"id": "..."}]} envelope.
	ListStyleOpenAI ListStyle = iota
	// ListStyleOllama calls GET {baseURL-without-/v1}/api/tags.
	ListStyleOllama
)

// ShapeOptions configures one concrete OpenAI-compatible backend. The same
// OpenAIShapedProvider implementation serves every chat-completions-style
// backend in the registry (local inference servers, hosted aggregators,
// xAI-compatible endpoints); only these knobs differ between them.
type ShapeOptions struct {
	Name          string
	Endpoint      string
	APIKey        string
	Model         string
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
	MaxTokens     int
	ListStyle     ListStyle
	// ElideTools drops tool definitions from the request entirely instead of
	// sending an empty list; some local inference servers choke on a
	// "tools": [] field when the model wasn't fine-tuned for tool calling.
	ElideTools bool
	// ExtraHeaders are added verbatim to every request (e.g. an
	// aggregator-specific routing header).
	ExtraHeaders map[string]string
}

// OpenAIShapedProvider implements Provider for any backend that speaks the
// OpenAI Chat Completions wire format over SSE: local inference servers
// (Ollama, vLLM, LM Studio) and hosted OpenAI-compatible aggregators alike.
type OpenAIShapedProvider struct {
	opts       ShapeOptions
	httpClient *http.Client
}

// NewOpenAIShaped constructs a provider for the given shape options.
func NewOpenAIShaped(opts ShapeOptions) *OpenAIShapedProvider {
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	return &OpenAIShapedProvider{opts: opts, httpClient: &http.Client{}}
}

func (p *OpenAIShapedProvider) Name() string { return p.opts.Name }

func (p *OpenAIShapedProvider) chatURL() string {
	return p.opts.Endpoint + "/chat/completions"
}

type openAIShapedRequest struct {
	Model             string                         `json:"model"`
	Messages          []openai.ChatCompletionMessage `json:"messages"`
	Tools             []openai.Tool                  `json:"tools,omitempty"`
	Temperature       float32                        `json:"temperature,omitempty"`
	TopP              float32                         `json:"top_p,omitempty"`
	RepetitionPenalty float32                         `json:"repetition_penalty,omitempty"`
	MaxTokens         int                             `json:"max_tokens,omitempty"`
	Stream            bool                            `json:"stream"`
	StreamOptions     *chatStreamOptions              `json:"stream_options,omitempty"`
	SearchParameters  *searchParameters               `json:"search_parameters,omitempty"`
}

// ChatStream sends messages with optional tools and returns a channel of
// streaming events, retrying transient (429/5xx) SSE failures per
// sseRetryDelays.
func (p *OpenAIShapedProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	var toolParams []openai.Tool
	if p.opts.ElideTools {
		// Backends without function-calling support get tool results folded
		// back into the user turn instead of a dedicated Tool role.
		messages = rewriteToolMessagesAsUser(messages)
	} else {
		toolParams = toOpenAITools(tools)
	}

	req := openAIShapedRequest{
		Model:             p.opts.Model,
		Messages:          mergeSystemMessagesOpenAI(toOpenAIMessages(messages)),
		Tools:             toolParams,
		Temperature:       float32(p.opts.Temperature),
		TopP:              float32(p.opts.TopP),
		RepetitionPenalty: float32(p.opts.RepeatPenalty),
		MaxTokens:         p.opts.MaxTokens,
		Stream:            true,
		StreamOptions:     &chatStreamOptions{IncludeUsage: true},
	}
	if isGrokModel(p.opts.Model) && isTimeSensitive(lastUserContent(messages)) {
		req.SearchParameters = &searchParameters{Mode: "auto"}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.chatURL(),
		body:     body,
		headers:  p.authHeaders(),
		provider: p.opts.Name,
		model:    p.opts.Model,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseSSEStream(ctx, reader, ch)
	}()
	return ch, nil
}

func (p *OpenAIShapedProvider) authHeaders() map[string]string {
	headers := make(map[string]string, len(p.opts.ExtraHeaders)+1)
	for k, v := range p.opts.ExtraHeaders {
		headers[k] = v
	}
	if p.opts.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.opts.APIKey
	}
	return headers
}

func (p *OpenAIShapedProvider) ListModels(ctx context.Context) ([]Model, error) {
	if p.opts.ListStyle == ListStyleOllama {
		return p.listModelsOllama(ctx)
	}
	return p.listModelsOpenAI(ctx)
}

func (p *OpenAIShapedProvider) listModelsOpenAI(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.Endpoint+"/models", nil)
	if err != nil {
		return nil, err
	}
	for k, v := range p.authHeaders() {
		req.Header.Set(k, v)
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
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, err
	}
	models := make([]Model, len(listResp.Data))
	for i, m := range listResp.Data {
		models[i] = Model{Name: m.ID}
	}
	return models, nil
}

func (p *OpenAIShapedProvider) listModelsOllama(ctx context.Context) ([]Model, error) {
	base := strings.TrimSuffix(p.opts.Endpoint, "/v1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
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
			Name       string    `json:"name"`
			Size       int64     `json:"size"`
			Digest     string    `json:"digest"`
			ModifiedAt time.Time `json:"modified_at"`
			Details    struct {
				Format     string `json:"format"`
				Family     string `json:"family"`
				ParamSize  string `json:"parameter_size"`
				QuantLevel string `json:"quantization_level"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, err
	}
	models := make([]Model, len(listResp.Models))
	for i, m := range listResp.Models {
		models[i] = Model{
			Name: m.Name, Size: m.Size, Digest: m.Digest, ModifiedAt: m.ModifiedAt,
			Format: m.Details.Format, Family: m.Details.Family,
			ParamSize: m.Details.ParamSize, QuantLevel: m.Details.QuantLevel,
		}
	}
	return models, nil
}

func (p *OpenAIShapedProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}
