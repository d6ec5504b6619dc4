package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/pkg/circuitbreaker"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
	"github.com/cjLee-cmd/test-PatAI/pkg/retry"
)

// ErrModelUnavailable wraps any model-runtime failure that survived the
// bounded retry. Query-path callers surface it once; ingestion retries
// it at phase granularity.
var ErrModelUnavailable = errors.New("model runtime unavailable")

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

func NewClient(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        timeout,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

// EmbeddingModelID identifies the embedding model for cache keys and
// chunk content hashes.
func (c *Client) EmbeddingModelID() string {
	return c.embeddingModel
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	embeddings := make([][]float32, 0, len(texts))

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(
					ctx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.embeddingModel),
					},
				)
				if err != nil {
					return fmt.Errorf("create embeddings: %w", err)
				}

				for _, data := range resp.Data {
					vector := make([]float32, len(data.Embedding))
					copy(vector, data.Embedding)
					embeddings = append(embeddings, vector)
				}
				return nil
			})
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
	}

	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d, expected %d",
			ErrModelUnavailable, len(embeddings), len(texts))
	}

	return embeddings, nil
}

// GenerateAnswer synthesizes a grounded answer from numbered context
// blocks. The prompt instructs the model to cite every claim with the
// [S#] markers and to refuse content outside the provided passages.
func (c *Client) GenerateAnswer(ctx context.Context, query string, contextBlocks []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	systemPrompt := `당신은 특허 문서 전문가입니다. 제공된 문서 발췌만을 근거로 정확하게 답변하세요.

답변 규칙:
1. 각 발췌는 [S1], [S2] 형식의 번호가 붙어 있습니다. 모든 문장 끝에 근거가 된 발췌의 번호를 표기하세요.
2. 제공된 발췌에 없는 내용은 추측하지 마세요. 근거가 없으면 "제공된 문서에서 확인할 수 없습니다"라고 쓰세요.
3. 특허 전문 용어는 쉽게 풀어 설명하세요.`

	userPrompt := fmt.Sprintf("문서 발췌:\n%s\n\n질문: %s\n\n답변:",
		strings.Join(contextBlocks, "\n\n"), query)

	content, err := c.complete(ctx, systemPrompt, userPrompt, c.temperature, c.maxTokens)
	if err != nil {
		return "", err
	}

	logger.Debug("Answer generated", zap.Int("answer_length", len(content)))
	return content, nil
}

// ScoreRelevance rates how well a passage answers the query on a 0-10
// scale, evaluating the pair together the way a cross-encoder does.
func (c *Client) ScoreRelevance(ctx context.Context, query, passage string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	systemPrompt := `You rate how relevant a patent document passage is to a question.
Answer with a single number from 0 to 10. 0 means unrelated, 10 means the passage directly answers the question. Output only the number.`

	userPrompt := fmt.Sprintf("Question: %s\n\nPassage:\n%s\n\nScore:", query, passage)

	content, err := c.complete(ctx, systemPrompt, userPrompt, 0, 4)
	if err != nil {
		return 0, err
	}

	score, err := parseScore(content)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return score, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32, maxTokens int) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	}

	var content string
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return errors.New("empty completion response")
			}
			content = resp.Choices[0].Message.Content
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	return content, nil
}

func parseScore(content string) (float64, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(content), func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if len(fields) == 0 {
		return 0, fmt.Errorf("no score in %q", content)
	}
	score, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("bad score %q", content)
	}
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return score, nil
}
