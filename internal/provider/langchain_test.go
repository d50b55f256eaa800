package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// recordingModel is an llms.Model that captures its input and streams reply
// word by word when a streaming func is set.
type recordingModel struct {
	reply    []string
	info     map[string]any
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *recordingModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = msgs
	for _, opt := range options {
		opt(&m.opts)
	}
	var full string
	for _, part := range m.reply {
		if m.opts.StreamingFunc != nil {
			if err := m.opts.StreamingFunc(ctx, []byte(part)); err != nil {
				return nil, err
			}
		}
		full += part
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full, GenerationInfo: m.info}}}, nil
}

func (m *recordingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLangchainBackend_Messages(t *testing.T) {
	model := &recordingModel{
		reply: []string{"Recursion ", "needs a base case."},
		info:  map[string]any{"PromptTokens": 42, "CompletionTokens": 7},
	}
	b := NewLangchainBackend("openai:gpt-4o-mini", model)

	res, err := b.Complete(context.Background(), Request{
		System:  "You are a tutor.",
		Context: "#1 Recursion",
		History: []Turn{
			{Role: RoleUser, Text: "hi"},
			{Role: RoleAssistant, Text: "hello"},
		},
		Query:       "what is recursion",
		Temperature: 0.5,
		MaxTokens:   256,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Recursion needs a base case.", res.Text)
	assert.Equal(t, "openai:gpt-4o-mini", res.ProviderID)
	assert.Equal(t, &Usage{PromptTokens: 42, CompletionTokens: 7}, res.Usage)

	require.Len(t, model.messages, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.TextContent{Text: "You are a tutor.\n\n#1 Recursion"}, model.messages[0].Parts[0])
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.messages[2].Role)
	assert.Equal(t, llms.TextContent{Text: "what is recursion"}, model.messages[3].Parts[0])
	assert.Equal(t, 0.5, model.opts.Temperature)
	assert.Equal(t, 256, model.opts.MaxTokens)
	assert.Nil(t, model.opts.StreamingFunc)
}

func TestLangchainBackend_Streams(t *testing.T) {
	model := &recordingModel{reply: []string{"a", "b", "c"}}
	g, _ := newTestGateway(t, NewLangchainBackend("ollama:llama3", model))

	var deltas []string
	for ev, err := range g.GenerateStream(context.Background(), Request{Query: "q"}) {
		require.NoError(t, err)
		if !ev.Done {
			deltas = append(deltas, ev.Delta)
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, deltas)
}

func TestUsageFrom(t *testing.T) {
	assert.Nil(t, usageFrom(nil))
	assert.Equal(t, &Usage{PromptTokens: 3, CompletionTokens: 5},
		usageFrom(map[string]any{"InputTokens": 3, "OutputTokens": 5}))
}

func TestNewLangchainModel_UnknownBackend(t *testing.T) {
	_, err := NewLangchainModel(LangchainConfig{Backend: "bard"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRequest_SystemPrompt(t *testing.T) {
	assert.Equal(t, "sys", Request{System: "sys"}.SystemPrompt())
	assert.Equal(t, "ctx", Request{Context: "ctx"}.SystemPrompt())
	assert.Equal(t, "sys\n\nctx", Request{System: "sys", Context: "ctx"}.SystemPrompt())
}
