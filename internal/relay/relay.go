// Package relay forwards conversation turns to the completion model and
// streams the response back.
//
// The relay is deliberately thin: it owns the history window, the per-request
// deadline, and upstream error classification. Persistence and session state
// belong to the caller.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Sentinel errors for relay operations.
var (
	// ErrUpstream indicates the completion provider failed or misbehaved.
	ErrUpstream = errors.New("upstream completion failed")

	// ErrNoTurns indicates Stream was called with no messages.
	ErrNoTurns = errors.New("no turns to relay")
)

const (
	// DefaultWindow is the number of trailing turns sent to the model.
	DefaultWindow = 5

	// DefaultTimeout bounds a single completion stream.
	DefaultTimeout = 60 * time.Second

	// fallbackResponseMessage is returned when the model produces an empty response.
	fallbackResponseMessage = "I couldn't generate a response. Please try rephrasing your request."
)

// defaultSystemPrompt is the content-creator persona sent with every
// completion. Tuned for Farsi blog-post generation; callers can override
// it through Config.SystemPrompt.
const defaultSystemPrompt = `
You are an expert content creator specialized in generating high-quality blog posts in Farsi. Your task is to create a comprehensive, engaging, and culturally relevant blog post in Markdown format based on the provided subject and keywords. Follow these guidelines:

Input Parameters:

Subject: The main topic or theme of the blog post (e.g., "Benefits of Persian Herbal Medicine").
Keywords: A list of 3–5 keywords to incorporate naturally into the content (e.g., "herbal medicine, Persian culture, natural remedies, health benefits").
Tone: Assume a professional yet accessible tone unless otherwise specified, suitable for a Farsi-speaking audience.
Length: Aim for 500–800 words unless otherwise specified.
Cultural Relevance: Ensure the content resonates with Persian culture, values, and linguistic nuances.

Output Structure:

Write the blog post in Farsi using correct grammar, formal or semi-formal language, and natural flow.
Use Markdown format with the following structure:
A main title (#).
An introductory paragraph (100–150 words) that hooks the reader and introduces the subject.
3–5 sections with subheadings (##) that explore different aspects of the subject, incorporating the provided keywords naturally.
A conclusion (100–150 words) that summarizes key points and includes a call-to-action (e.g., inviting readers to comment or try something related to the topic).
Use bullet points, numbered lists, or bold/italic text where appropriate to enhance readability.

Ensure the keywords are seamlessly integrated into the text without forced repetition.
Include at least one relevant Persian proverb or cultural reference to make the content relatable.

Content Guidelines:

Engaging: Write in a way that captivates the reader, using storytelling, examples, or questions to maintain interest.
Informative: Provide valuable insights, facts, or practical tips related to the subject.
SEO-Friendly: Naturally incorporate the keywords to optimize for search engines while maintaining readability.
Culturally Sensitive: Use idiomatic Farsi expressions, avoid overly Westernized phrasing, and respect Persian cultural norms.
Error-Free: Ensure the text is grammatically correct and free of typos, using standard Farsi orthography.

Instructions for Execution:
Given the subject and keywords, generate a blog post that adheres to the above structure and guidelines.
Ensure the content is original, engaging, and tailored to the Farsi-speaking audience.
Double-check the Markdown formatting and Farsi text for accuracy before finalizing the output.
`

// StreamCallback receives each text chunk as the model produces it.
// Return an error to abort the stream.
type StreamCallback func(ctx context.Context, chunk string) error

// Config contains all required parameters for the Relay.
type Config struct {
	Genkit *genkit.Genkit
	Logger *slog.Logger

	// ModelName is the provider-qualified model (e.g. "openai/x-ai/grok-4-fast:free").
	ModelName string

	// Window is the number of trailing turns to send (0 = DefaultWindow).
	Window int

	// Timeout bounds a single completion (0 = DefaultTimeout).
	Timeout time.Duration

	// SystemPrompt overrides the default system instruction (empty = default).
	SystemPrompt string

	Temperature float32
	MaxTokens   int
}

// validate checks if all required parameters are present.
func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Relay streams completions for conversation transcripts.
//
// Relay is stateless; all configuration is captured immutably at
// construction time, so it is safe for concurrent use.
type Relay struct {
	g            *genkit.Genkit
	logger       *slog.Logger
	modelName    string
	window       int
	timeout      time.Duration
	systemPrompt string
	temperature  float32
	maxTokens    int
}

// New creates a Relay with required configuration.
func New(cfg Config) (*Relay, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	r := &Relay{
		g:            cfg.Genkit,
		logger:       cfg.Logger,
		modelName:    cfg.ModelName,
		window:       window,
		timeout:      timeout,
		systemPrompt: systemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
	}

	r.logger.Info("relay initialized",
		"model", r.modelName,
		"window", r.window,
		"timeout", r.timeout,
	)
	return r, nil
}

// Window returns the trailing turns actually sent to the model: the last
// N by configured window size, order preserved. Short inputs come back
// unchanged.
func (r *Relay) Window(turns []*ai.Message) []*ai.Message {
	if len(turns) <= r.window {
		return turns
	}
	return turns[len(turns)-r.window:]
}

// Stream sends the trailing window of turns to the model and streams the
// response. Each chunk is delivered to callback (nil = no streaming); the
// full accumulated text is returned after the stream completes.
//
// The request runs under the relay's timeout regardless of the caller's
// context. All provider failures are classified as ErrUpstream.
func (r *Relay) Stream(ctx context.Context, turns []*ai.Message, callback StreamCallback) (string, error) {
	if len(turns) == 0 {
		return "", ErrNoTurns
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Trailing window only: the model never sees more than window turns.
	windowed := r.Window(turns)

	// Deep copy before handing to Genkit: renderMessages() modifies
	// msg.Content in-place, racing concurrent streams that share history.
	messages := make([]*ai.Message, 0, len(windowed)+1)
	messages = append(messages, ai.NewSystemMessage(ai.NewTextPart(r.systemPrompt)))
	messages = append(messages, deepCopyMessages(windowed)...)

	opts := []ai.GenerateOption{
		ai.WithModelName(r.modelName),
		ai.WithMessages(messages...),
	}
	genCfg := &ai.GenerationCommonConfig{}
	if r.temperature > 0 {
		genCfg.Temperature = float64(r.temperature)
	}
	if r.maxTokens > 0 {
		genCfg.MaxOutputTokens = r.maxTokens
	}
	if r.temperature > 0 || r.maxTokens > 0 {
		opts = append(opts, ai.WithConfig(genCfg))
	}

	if callback != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			text := chunk.Text()
			if text == "" {
				return nil
			}
			return callback(ctx, text)
		}))
	}

	r.logger.Debug("relaying turns",
		"turns", len(turns),
		"windowed", len(windowed),
		"model", r.modelName,
	)

	resp, err := genkit.Generate(ctx, r.g, opts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", ErrUpstream, ctxErr)
		}
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		r.logger.Warn("model returned empty response")
		text = fallbackResponseMessage
	}
	return text, nil
}

// Title generation constants.
const (
	titleGenerationTimeout = 5 * time.Second
	titleInputMaxRunes     = 500
	titleMaxRunes          = 80
)

const titlePrompt = `Generate a concise title (max 80 characters) for a conversation based on this first message.
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

// Title generates a concise conversation title from the user's first message.
// Returns empty string on failure (best-effort).
func (r *Relay) Title(ctx context.Context, userMessage string) string {
	ctx, cancel := context.WithTimeout(ctx, titleGenerationTimeout)
	defer cancel()

	inputRunes := []rune(userMessage)
	if len(inputRunes) > titleInputMaxRunes {
		userMessage = string(inputRunes[:titleInputMaxRunes]) + "..."
	}

	response, err := genkit.Generate(ctx, r.g,
		ai.WithPrompt(titlePrompt, userMessage),
		ai.WithModelName(r.modelName),
	)
	if err != nil {
		r.logger.Debug("title generation failed", "error", err)
		return ""
	}

	title := strings.TrimSpace(response.Text())
	titleRunes := []rune(title)
	if len(titleRunes) > titleMaxRunes {
		title = string(titleRunes[:titleMaxRunes-3]) + "..."
	}
	return title
}

// deepCopyMessages creates independent copies of Message and Part structs.
//
// WORKAROUND: Genkit's renderMessages() modifies msg.Content in-place,
// causing data races in concurrent executions. Tested version:
// github.com/firebase/genkit/go v1.4.0.
func deepCopyMessages(msgs []*ai.Message) []*ai.Message {
	if msgs == nil {
		return nil
	}
	copied := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		parts := make([]*ai.Part, len(msg.Content))
		for j, part := range msg.Content {
			parts[j] = deepCopyPart(part)
		}
		copied[i] = &ai.Message{
			Role:     msg.Role,
			Content:  parts,
			Metadata: shallowCopyMap(msg.Metadata),
		}
	}
	return copied
}

// deepCopyPart creates an independent copy of an ai.Part struct.
// Tool request/response payloads are copied by reference; the relay never
// sends tool parts, so only text fields matter here.
func deepCopyPart(p *ai.Part) *ai.Part {
	if p == nil {
		return nil
	}
	return &ai.Part{
		Kind:        p.Kind,
		ContentType: p.ContentType,
		Text:        p.Text,
		Custom:      shallowCopyMap(p.Custom),
		Metadata:    shallowCopyMap(p.Metadata),
	}
}

// shallowCopyMap copies map keys and values but not nested structures.
func shallowCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
