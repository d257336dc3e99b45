package provider

// OpenAIShapedFactory creates OpenAIShapedProvider instances for one
// configured endpoint (local inference server or hosted aggregator).
type OpenAIShapedFactory struct {
	name      string
	endpoint  string
	apiKey    string
	listStyle ListStyle
	elide     bool
	headers   map[string]string
}

// NewOpenAIShapedFactory registers a chat-completions-shaped backend under
// name, reachable at endpoint.
func NewOpenAIShapedFactory(name, endpoint, apiKey string, listStyle ListStyle, elideTools bool, headers map[string]string) *OpenAIShapedFactory {
	return &OpenAIShapedFactory{name: name, endpoint: endpoint, apiKey: apiKey, listStyle: listStyle, elide: elideTools, headers: headers}
}

func (f *OpenAIShapedFactory) Name() string { return f.name }

func (f *OpenAIShapedFactory) Create(model string, opts Options) Provider {
	return NewOpenAIShaped(ShapeOptions{
		Name:          f.name,
		Endpoint:      f.endpoint,
		APIKey:        f.apiKey,
		Model:         model,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		RepeatPenalty: opts.RepeatPenalty,
		MaxTokens:     opts.MaxTokens,
		ListStyle:     f.listStyle,
		ElideTools:    f.elide,
		ExtraHeaders:  f.headers,
	})
}

// AnthropicFactory creates AnthropicProvider instances for one endpoint
// (Anthropic's own API, or any Anthropic-Messages-API-compatible gateway).
type AnthropicFactory struct {
	name     string
	endpoint string
	apiKey   string
}

func NewAnthropicFactory(name, endpoint, apiKey string) *AnthropicFactory {
	return &AnthropicFactory{name: name, endpoint: endpoint, apiKey: apiKey}
}

func (f *AnthropicFactory) Name() string { return f.name }

func (f *AnthropicFactory) Create(model string, opts Options) Provider {
	return NewAnthropic(f.name, f.endpoint, model, f.apiKey, opts.Temperature)
}

// GeminiFactory creates GeminiProvider instances for one API key.
type GeminiFactory struct {
	name   string
	apiKey string
}

func NewGeminiFactory(name, apiKey string) *GeminiFactory {
	return &GeminiFactory{name: name, apiKey: apiKey}
}

func (f *GeminiFactory) Name() string { return f.name }

func (f *GeminiFactory) Create(model string, opts Options) Provider {
	return NewGemini(f.name, model, f.apiKey, opts.Temperature)
}
