package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/triad/internal/config"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiProvider Google Gemini 提供方
type GeminiProvider struct {
	name   string
	model  string
	weight float64
	client *genai.Client
	logger *zap.Logger
}

var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider 创建Gemini提供方
func NewGeminiProvider(ctx context.Context, conf config.ProviderConf, logger *zap.Logger) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  conf.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{
		name:   conf.Name,
		model:  conf.Model,
		weight: conf.Weight,
		client: client,
		logger: logger,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return p.name
}

func (p *GeminiProvider) Weight() float64 {
	return p.weight
}

// Propose 征询一次意见
func (p *GeminiProvider) Propose(ctx context.Context, input Context) (*Opinion, error) {
	started := time.Now()

	prompt := SystemPrompt() + "\n\n" + BuildPrompt(input)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.name, err)
	}

	content := resp.Text()
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
