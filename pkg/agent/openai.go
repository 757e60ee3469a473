package agent

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/agent-relay/pkg/relay"
)

// OpenAIConfig holds the settings of an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	// Model overrides the definition's model when set.
	Model string
}

// OpenAIResponder streams chat completions from an OpenAI-compatible API.
type OpenAIResponder struct {
	client *openai.Client
	model  string
}

func NewOpenAIResponder(cfg OpenAIConfig) (*OpenAIResponder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is empty")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIResponder{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

func (o *OpenAIResponder) Respond(ctx context.Context, def Definition, history []relay.ContentMessage, emit func(chunk string) error) (string, error) {
	model := o.model
	if model == "" {
		model = def.Model
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: chatMessages(def, history),
		Stream:   true,
	}
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "create chat completion stream")
	}
	defer func() { _ = stream.Close() }()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return sb.String(), ctx.Err()
			}
			return sb.String(), errors.Wrap(err, "receive chat completion chunk")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		if err := emit(chunk); err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
}

func chatMessages(def Definition, history []relay.ContentMessage) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if strings.TrimSpace(def.Instruction) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: def.Instruction,
		})
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == relay.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Text()})
	}
	return msgs
}
