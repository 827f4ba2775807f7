package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider talks to the Gemini API. A provider is built per request
// because the API key is supplied by the caller.
type GeminiProvider struct {
	APIKey string
	Model  string
}

func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiProvider{APIKey: apiKey, Model: model}
}

// Generation parameters are fixed, not tunable per request.
func geminiConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.7),
		TopP:            genai.Ptr[float32](0.95),
		TopK:            genai.Ptr[float32](40),
		MaxOutputTokens: 8192,
	}
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return client, nil
}

// split maps prior turns to Gemini chat history and returns the final user
// message to send. Turns tagged assistant become the "model" role.
func split(messages []Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", errors.New("gemini: no messages")
	}
	last := messages[len(messages)-1]
	if last.Role != RoleUser {
		return nil, "", errors.New("gemini: last message must be from the user")
	}
	history := make([]*genai.Content, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return history, last.Content, nil
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return "", err
	}
	history, prompt, err := split(messages)
	if err != nil {
		return "", err
	}
	chat, err := client.Chats.Create(ctx, p.Model, geminiConfig(), history)
	if err != nil {
		return "", fmt.Errorf("gemini: start chat: %w", err)
	}
	resp, err := chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	return resp.Text(), nil
}

// StreamChat yields text fragments as the model emits them.
func (p *GeminiProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		client, err := p.newClient(ctx)
		if err != nil {
			errs <- err
			return
		}
		history, prompt, err := split(messages)
		if err != nil {
			errs <- err
			return
		}
		chat, err := client.Chats.Create(ctx, p.Model, geminiConfig(), history)
		if err != nil {
			errs <- fmt.Errorf("gemini: start chat: %w", err)
			return
		}

		for resp, err := range chat.SendMessageStream(ctx, genai.Part{Text: prompt}) {
			if err != nil {
				errs <- fmt.Errorf("gemini: %w", err)
				return
			}
			if text := resp.Text(); text != "" {
				select {
				case chunks <- text:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
	}()

	return chunks, errs
}
