// Package agent answers free-form questions about a consolidated table
// with a Bedrock-hosted Claude model.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/ignite/campaign-pulse/internal/config"
	"github.com/ignite/campaign-pulse/internal/consolidate"
	"github.com/ignite/campaign-pulse/internal/metrics"
	"github.com/ignite/campaign-pulse/internal/pkg/logger"
)

// ErrEmptyQuestion is returned when Ask gets a blank question.
var ErrEmptyQuestion = errors.New("agent: question is required")

// Invoker is the part of the Bedrock runtime client the assistant uses.
type Invoker interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockMessage represents a message in Bedrock format
type BedrockMessage struct {
	Role    string                `json:"role"`
	Content []BedrockContentBlock `json:"content"`
}

// BedrockContentBlock represents content in a message
type BedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// BedrockRequest is the Anthropic messages body for InvokeModel
type BedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []BedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

// BedrockResponse is the response from Bedrock
type BedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Message is one prior turn of a conversation.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// AskInput is a question with the data it should be answered from.
type AskInput struct {
	Question   string
	History    []Message
	Table      *consolidate.Table
	Calc       *metrics.Calculator
	Scorecards []consolidate.Scorecard
}

// Answer is the model reply.
type Answer struct {
	Text         string `json:"answer"`
	Model        string `json:"model"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// BedrockAssistant is a question-answering assistant powered by AWS Bedrock (Claude).
type BedrockAssistant struct {
	client    Invoker
	modelID   string
	maxTokens int
	maxRows   int
	prompt    *promptTemplate
}

// NewBedrockAssistant creates an assistant from an existing client.
func NewBedrockAssistant(client Invoker, cfg config.AgentConfig) (*BedrockAssistant, error) {
	if client == nil {
		return nil, errors.New("agent: bedrock client is required")
	}
	prompt, err := newPromptTemplate()
	if err != nil {
		return nil, err
	}

	// Default to Claude 3 Sonnet if not specified
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	logger.Info("bedrock assistant initialized", "model", modelID, "max_rows", cfg.MaxRows)
	return &BedrockAssistant{
		client:    client,
		modelID:   modelID,
		maxTokens: maxTokens,
		maxRows:   cfg.MaxRows,
		prompt:    prompt,
	}, nil
}

// NewFromConfig builds the Bedrock runtime client from awsCfg.
func NewFromConfig(awsCfg aws.Config, cfg config.AgentConfig) (*BedrockAssistant, error) {
	return NewBedrockAssistant(bedrockruntime.NewFromConfig(awsCfg), cfg)
}

// Ask answers a question using the table as the only source of data.
func (b *BedrockAssistant) Ask(ctx context.Context, in AskInput) (*Answer, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if in.Table == nil || in.Calc == nil {
		return nil, errors.New("agent: a table and calculator are required")
	}

	system, err := b.prompt.render(in.Table, in.Calc, in.Scorecards, b.maxRows)
	if err != nil {
		return nil, err
	}

	messages := make([]BedrockMessage, 0, len(in.History)+1)
	for _, m := range in.History {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		messages = append(messages, BedrockMessage{
			Role:    m.Role,
			Content: []BedrockContentBlock{{Type: "text", Text: m.Text}},
		})
	}
	messages = append(messages, BedrockMessage{
		Role:    "user",
		Content: []BedrockContentBlock{{Type: "text", Text: question}},
	})

	request := BedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        b.maxTokens,
		System:           system,
		Messages:         messages,
		Temperature:      0.2,
	}
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, fmt.Errorf("Bedrock API error: %w", err)
	}

	var response BedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var sb strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}

	logger.Info("assistant answered",
		"run_id", in.Table.RunID,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
	)
	return &Answer{
		Text:         sb.String(),
		Model:        b.modelID,
		StopReason:   response.StopReason,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	}, nil
}
