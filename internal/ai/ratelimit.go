package ai

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited 供应商本地限速触发，上层按弃权处理
var ErrRateLimited = errors.New("ai: provider rate limited")

// rateLimitedProvider 按每分钟请求数限制底层供应商的调用频率
type rateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// RateLimited 包装供应商，超出 rpm 的调用直接返回 ErrRateLimited 而不是排队等待
func RateLimited(p Provider, rpm int) Provider {
	if rpm <= 0 {
		return p
	}
	return &rateLimitedProvider{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}
}

func (p *rateLimitedProvider) Name() string { return p.inner.Name() }

func (p *rateLimitedProvider) Weight() float64 { return p.inner.Weight() }

func (p *rateLimitedProvider) Propose(ctx context.Context, input Context) (*Opinion, error) {
	if !p.limiter.Allow() {
		return nil, ErrRateLimited
	}
	return p.inner.Propose(ctx, input)
}
