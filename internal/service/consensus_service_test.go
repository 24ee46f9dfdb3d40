package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dushixiang/triad/internal/ai"
	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Trade{},
		&models.AiLog{},
		&models.ConsensusDecision{},
		&models.Alert{},
	))
	return db
}

type fakeProvider struct {
	name   string
	weight float64
	fn     func(input ai.Context) (*ai.Opinion, error)
	calls  atomic.Int32
}

func (p *fakeProvider) Name() string    { return p.name }
func (p *fakeProvider) Weight() float64 { return p.weight }

func (p *fakeProvider) Propose(ctx context.Context, input ai.Context) (*ai.Opinion, error) {
	p.calls.Add(1)
	return p.fn(input)
}

func opinionOf(provider string, action ai.Action, confidence float64, leverage int) *ai.Opinion {
	return &ai.Opinion{
		Provider:   provider,
		Model:      "fake",
		Action:     action,
		Confidence: confidence,
		Leverage:   leverage,
		StopLoss:   95,
		TakeProfit: 115,
	}
}

func fixedProvider(name string, weight float64, op *ai.Opinion) *fakeProvider {
	return &fakeProvider{name: name, weight: weight, fn: func(ai.Context) (*ai.Opinion, error) {
		return op, nil
	}}
}

func newConsensusService(t *testing.T, providers []ai.Provider, mutate func(*config.ConsensusConf)) *ConsensusService {
	t.Helper()
	conf := config.Config{}.WithDefaults()
	if mutate != nil {
		mutate(&conf.Consensus)
	}
	return NewConsensusService(newTestDB(t), &conf, providers, nil, zap.NewNop())
}

func testInput(cycleID string) ai.Context {
	return ai.Context{
		CycleID: cycleID,
		Symbol:  "BTCUSDT",
		Price:   100,
		ATR:     1.5,
		Equity:  10000,
	}
}

func TestConsensusUnanimousLong(t *testing.T) {
	providers := []ai.Provider{
		fixedProvider("alpha", 1, opinionOf("alpha", ai.ActionLong, 80, 10)),
		fixedProvider("beta", 1, opinionOf("beta", ai.ActionLong, 82, 10)),
		fixedProvider("gamma", 1, opinionOf("gamma", ai.ActionLong, 75, 11)),
	}
	svc := newConsensusService(t, providers, nil)

	outcome, err := svc.Decide(context.Background(), testInput("cycle-1"))
	require.NoError(t, err)

	assert.Equal(t, ai.ActionLong, outcome.Action)
	assert.True(t, outcome.Quorate)
	assert.True(t, outcome.MajorityLock)
	assert.False(t, outcome.BreakerOpen)
	assert.Equal(t, 0, outcome.VetoCount)
	// 加权中位数置信度取排序后累计权重过半的那一票
	assert.Equal(t, float64(80), outcome.Confidence)
	assert.Equal(t, 10, outcome.Leverage)

	logs, err := svc.AiLogRepo.FindByCycleID(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Len(t, logs, 6) // 3个模型 × 2轮

	decision, err := svc.ConsensusDecisionRepo.FindByCycleID(context.Background(), "cycle-1")
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, "LONG", decision.FinalAction)
	assert.True(t, decision.MajorityLock)
}

func TestConsensusQuorumNotMet(t *testing.T) {
	schemaErr := fmt.Errorf("%w: provider broken", ai.ErrSchema)
	providers := []ai.Provider{
		fixedProvider("alpha", 1, opinionOf("alpha", ai.ActionLong, 80, 10)),
		&fakeProvider{name: "beta", weight: 1, fn: func(ai.Context) (*ai.Opinion, error) {
			return nil, schemaErr
		}},
		&fakeProvider{name: "gamma", weight: 1, fn: func(ai.Context) (*ai.Opinion, error) {
			return nil, schemaErr
		}},
	}
	svc := newConsensusService(t, providers, nil)

	outcome, err := svc.Decide(context.Background(), testInput("cycle-2"))
	require.NoError(t, err)

	assert.Equal(t, ai.ActionHold, outcome.Action)
	assert.False(t, outcome.Quorate)
	assert.False(t, outcome.MajorityLock)
	assert.Equal(t, 4, outcome.VetoCount) // 两个模型两轮都是SCHEMA_FAIL

	logs, err := svc.AiLogRepo.FindByCycleID(context.Background(), "cycle-2")
	require.NoError(t, err)
	vetoed := 0
	for _, row := range logs {
		if row.Vetoed {
			assert.Equal(t, VetoSchemaFail, row.VetoReason)
			vetoed++
		}
	}
	assert.Equal(t, 4, vetoed)
}

func TestConsensusDeviationVeto(t *testing.T) {
	providers := []ai.Provider{
		fixedProvider("alpha", 1, opinionOf("alpha", ai.ActionLong, 80, 10)),
		fixedProvider("beta", 1, opinionOf("beta", ai.ActionLong, 82, 10)),
		fixedProvider("gamma", 1, opinionOf("gamma", ai.ActionLong, 90, 30)),
	}
	svc := newConsensusService(t, providers, nil)

	outcome, err := svc.Decide(context.Background(), testInput("cycle-3"))
	require.NoError(t, err)

	// 杠杆30相对中位数10偏离200%，gamma两轮都被否决
	assert.Equal(t, ai.ActionLong, outcome.Action)
	assert.True(t, outcome.Quorate)
	assert.False(t, outcome.MajorityLock)
	assert.Equal(t, 2, outcome.VetoCount)
	assert.Equal(t, 10, outcome.Leverage)
}

func TestConsensusNoneVeto(t *testing.T) {
	providers := []ai.Provider{
		fixedProvider("alpha", 1, opinionOf("alpha", ai.ActionLong, 80, 10)),
		fixedProvider("beta", 1, &ai.Opinion{
			Provider:   "beta",
			Action:     ai.ActionHold,
			Confidence: 95,
		}),
		fixedProvider("gamma", 1, opinionOf("gamma", ai.ActionLong, 82, 10)),
	}
	svc := newConsensusService(t, providers, nil)

	outcome, err := svc.Decide(context.Background(), testInput("cycle-4"))
	require.NoError(t, err)

	assert.Equal(t, ai.ActionLong, outcome.Action)
	assert.Equal(t, 2, outcome.VetoCount)

	logs, err := svc.AiLogRepo.FindByCycleID(context.Background(), "cycle-4")
	require.NoError(t, err)
	found := false
	for _, row := range logs {
		if row.Provider == "beta" {
			assert.True(t, row.Vetoed)
			assert.Equal(t, VetoNone, row.VetoReason)
			found = true
		}
	}
	assert.True(t, found)
}

func TestConsensusAbstentionRetriesOnce(t *testing.T) {
	flaky := &fakeProvider{name: "alpha", weight: 1, fn: func(ai.Context) (*ai.Opinion, error) {
		return nil, fmt.Errorf("upstream unavailable")
	}}
	steady := fixedProvider("beta", 1, opinionOf("beta", ai.ActionShort, 70, 5))
	svc := newConsensusService(t, []ai.Provider{flaky, steady}, func(c *config.ConsensusConf) {
		c.Quorum = 1
	})

	outcome, err := svc.Decide(context.Background(), testInput("cycle-5"))
	require.NoError(t, err)

	// 弃权不是否决，且传输错误每轮重试一次
	assert.Equal(t, ai.ActionShort, outcome.Action)
	assert.Equal(t, 0, outcome.VetoCount)
	assert.Equal(t, int32(4), flaky.calls.Load())
	assert.Equal(t, int32(2), steady.calls.Load())
}

func TestConsensusSingleProviderSkipsQuorum(t *testing.T) {
	solo := fixedProvider("alpha", 1, opinionOf("alpha", ai.ActionLong, 65, 8))
	svc := newConsensusService(t, []ai.Provider{solo}, nil)

	outcome, err := svc.Decide(context.Background(), testInput("cycle-6"))
	require.NoError(t, err)

	assert.Equal(t, ai.ActionLong, outcome.Action)
	assert.True(t, outcome.Quorate)
	assert.True(t, outcome.MajorityLock)
}

func TestConsensusBreaker(t *testing.T) {
	vetoing := fixedProvider("alpha", 1, &ai.Opinion{
		Provider:   "alpha",
		Action:     ai.ActionHold,
		Confidence: 99,
	})
	svc := newConsensusService(t, []ai.Provider{vetoing}, func(c *config.ConsensusConf) {
		c.MaxVetoPerMinute = 1
		c.CooldownSeconds = 30
	})

	outcome, err := svc.Decide(context.Background(), testInput("cycle-7"))
	require.NoError(t, err)
	assert.True(t, outcome.BreakerOpen)
	assert.Equal(t, ai.ActionHold, outcome.Action)
	callsAfterTrip := vetoing.calls.Load()

	// 熔断期间不再征询模型
	outcome, err = svc.Decide(context.Background(), testInput("cycle-8"))
	require.NoError(t, err)
	assert.True(t, outcome.BreakerOpen)
	assert.Equal(t, ai.ActionHold, outcome.Action)
	assert.Equal(t, callsAfterTrip, vetoing.calls.Load())

	// 冷却结束后恢复征询
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.Decide(context.Background(), testInput("cycle-9"))
	require.NoError(t, err)
	assert.Greater(t, vetoing.calls.Load(), callsAfterTrip)
}

func TestConsensusSecondRoundRestatesFirst(t *testing.T) {
	var round2Brief atomic.Value
	observer := &fakeProvider{name: "alpha", weight: 1, fn: nil}
	observer.fn = func(input ai.Context) (*ai.Opinion, error) {
		if input.Round == 2 {
			round2Brief.Store(input.PeerBrief)
		}
		return opinionOf("alpha", ai.ActionLong, 77, 12), nil
	}
	svc := newConsensusService(t, []ai.Provider{observer}, nil)

	_, err := svc.Decide(context.Background(), testInput("cycle-10"))
	require.NoError(t, err)

	brief, ok := round2Brief.Load().(string)
	require.True(t, ok)
	assert.Contains(t, brief, "alpha")
	assert.Contains(t, brief, "LONG")
	assert.Contains(t, brief, "provisional consensus")
}

func TestWeightedMedianConfidence(t *testing.T) {
	votes := []*vote{
		{provider: &fakeProvider{name: "a", weight: 1}, opinion: &ai.Opinion{Action: ai.ActionLong, Confidence: 80}},
		{provider: &fakeProvider{name: "b", weight: 1}, opinion: &ai.Opinion{Action: ai.ActionLong, Confidence: 82}},
		{provider: &fakeProvider{name: "c", weight: 1}, opinion: &ai.Opinion{Action: ai.ActionLong, Confidence: 40}},
	}
	assert.Equal(t, float64(80), weightedMedianConfidence(votes))

	// 权重偏向一侧时中位数跟着移动
	votes[2].provider = &fakeProvider{name: "c", weight: 5}
	assert.Equal(t, float64(40), weightedMedianConfidence(votes))
}

func TestTrimmedMean(t *testing.T) {
	assert.Equal(t, float64(0), trimmedMean(nil))
	assert.Equal(t, float64(10), trimmedMean([]float64{10}))
	assert.Equal(t, float64(15), trimmedMean([]float64{10, 20}))
	assert.Equal(t, float64(20), trimmedMean([]float64{1, 15, 25, 100}))
}
