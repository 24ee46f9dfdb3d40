package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dushixiang/triad/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// OpenAIProvider OpenAI兼容提供方
// Grok、DeepSeek 等兼容API通过 base_url 走同一实现
type OpenAIProvider struct {
	name   string
	model  string
	weight float64
	client *openai.Client
	logger *zap.Logger
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider 创建OpenAI兼容提供方
func NewOpenAIProvider(conf config.ProviderConf, logger *zap.Logger) (*OpenAIProvider, error) {
	options := []option.RequestOption{
		option.WithAPIKey(conf.APIKey),
	}
	if conf.BaseURL != "" {
		options = append(options, option.WithBaseURL(conf.BaseURL))
	}
	if conf.ProxyURL != "" {
		u, err := url.Parse(conf.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url for provider %s: %w", conf.Name, err)
		}
		httpClient := &http.Client{
			Timeout: time.Minute,
			Transport: &http.Transport{
				Proxy: http.ProxyURL(u),
			},
		}
		options = append(options, option.WithHTTPClient(httpClient))
	}

	client := openai.NewClient(options...)
	return &OpenAIProvider{
		name:   conf.Name,
		model:  conf.Model,
		weight: conf.Weight,
		client: &client,
		logger: logger,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Weight() float64 {
	return p.weight
}

// Propose 征询一次意见
func (p *OpenAIProvider) Propose(ctx context.Context, input Context) (*Opinion, error) {
	started := time.Now()

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt()),
			openai.UserMessage(BuildPrompt(input)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider %s: empty choices", p.name)
	}

	content := resp.Choices[0].Message.Content
	opinion, err := ParseOpinion(p.name, p.model, content)
	if err != nil {
		return nil, err
	}
	opinion.Latency = time.Since(started)

	p.logger.Debug("provider opinion received",
		zap.String("provider", p.name),
		zap.String("symbol", input.Symbol),
		zap.Int("round", input.Round),
		zap.String("action", string(opinion.Action)),
		zap.Float64("confidence", opinion.Confidence),
		zap.Duration("latency", opinion.Latency))
	return opinion, nil
}
