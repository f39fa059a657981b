package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"reflect"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Message is a minimal chat message used by the conversation engine.
// Role must be one of: "system", "user", or "assistant".  When ImagePath is
// set the message is sent as a multimodal part alongside the text.
type Message struct {
	Role      string
	Content   string
	ImagePath string
}

// Client defines the model capabilities required by the conversation engine
// and the report synthesizer.  Chat accepts the full message history.
// ChatStructured asks the model to fill out's shape at temperature 0 and
// decodes the reply into out; any transport or decode fault is returned as
// an ordinary error for the caller to recover from.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	ChatStructured(ctx context.Context, prompt string, out any) error
}

// OpenAIClient calls the OpenAI API for chat and structured extraction.
// API credentials and model names are loaded from environment variables.
type OpenAIClient struct {
	client      *openai.Client
	chatModel   string
	reportModel string
}

// NewOpenAIClient constructs an OpenAI-backed LLM client. It reads the API
// key and model names from the environment and falls back to sensible
// defaults.
func NewOpenAIClient() *OpenAIClient {
	apiKey := os.Getenv("OPENAI_API_KEY")
	c := openai.NewClient(apiKey)

	chatModel := os.Getenv("OPENAI_MODEL_CHAT")
	if chatModel == "" {
		// default to a modern small multimodal model; override via env
		chatModel = "gpt-4o-mini"
	}
	reportModel := os.Getenv("OPENAI_MODEL_REPORT")
	if reportModel == "" {
		reportModel = chatModel
	}

	return &OpenAIClient{
		client:      c,
		chatModel:   chatModel,
		reportModel: reportModel,
	}
}

// Chat sends the message history to the chat completion API and returns the
// assistant's response.  Messages carrying an image path are encoded as
// image parts so the model can analyze the upload.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		if m.ImagePath == "" {
			oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
			continue
		}
		dataURL, err := encodeImage(m.ImagePath)
		if err != nil {
			return "", fmt.Errorf("encode image %s: %w", m.ImagePath, err)
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{
			Role: role,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: m.Content},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailAuto},
				},
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    oaMsgs,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStructured requests a completion constrained to out's JSON schema at
// temperature 0 and decodes the response into out.
func (c *OpenAIClient) ChatStructured(ctx context.Context, prompt string, out any) error {
	if c.client == nil {
		return errors.New("openai client not initialized")
	}

	// out is a pointer to the record struct; generate the schema from the
	// struct itself.
	schema, err := jsonschema.GenerateSchemaForType(reflect.ValueOf(out).Elem().Interface())
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.reportModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "risk_assessment",
				Schema: schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return errors.New("empty completion response")
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("decode structured response: %w", err)
	}
	return nil
}

// encodeImage reads an image file and returns it as a base64 data URL.
func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
