package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dushixiang/triad/internal/ai"
	"github.com/dushixiang/triad/internal/config"
	"github.com/dushixiang/triad/internal/models"
	"github.com/dushixiang/triad/internal/repo"
	"github.com/dushixiang/triad/internal/trading"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 否决代码
const (
	VetoSchemaFail = "SCHEMA_FAIL"
	VetoNone       = "NONE_VETO"
	VetoOutOfRange = "OUT_OF_RANGE"
	VetoDeviation  = "DEV_VETO"
)

const (
	dynamicThresholdFloor = 0.10
	dynamicThresholdCeil  = 0.30
	noneVetoConfidence    = 90
	vetoWindow            = time.Minute
)

// ConsensusService 多模型两轮共识决策
// 第一轮独立征询，第二轮复述首轮结果后再征询，聚合前先做否决校验
type ConsensusService struct {
	logger *zap.Logger

	*orz.Service
	*repo.AiLogRepo
	*repo.ConsensusDecisionRepo

	conf      config.ConsensusConf
	providers []ai.Provider
	alert     *AlertService

	callTimeout time.Duration
	now         func() time.Time

	mu           sync.Mutex
	vetoTimes    []time.Time
	breakerUntil time.Time
}

// NewConsensusService 创建共识服务
func NewConsensusService(
	db *gorm.DB,
	conf *config.Config,
	providers []ai.Provider,
	alert *AlertService,
	logger *zap.Logger,
) *ConsensusService {
	return &ConsensusService{
		logger:                logger,
		Service:               orz.NewService(db),
		AiLogRepo:             repo.NewAiLogRepo(db),
		ConsensusDecisionRepo: repo.NewConsensusDecisionRepo(db),
		conf:                  conf.Consensus,
		providers:             providers,
		alert:                 alert,
		callTimeout:           time.Duration(conf.Consensus.CallTimeoutSeconds) * time.Second,
		now:                   time.Now,
	}
}

// ConsensusOutcome 两轮共识的最终结论
type ConsensusOutcome struct {
	CycleID        string    `json:"cycle_id"`
	Symbol         string    `json:"symbol"`
	Action         ai.Action `json:"action"`
	Confidence     float64   `json:"confidence"`
	Leverage       int       `json:"leverage"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	QtyDeltaFactor float64   `json:"qty_delta_factor"`
	MajorityLock   bool      `json:"majority_lock"`
	BreakerOpen    bool      `json:"breaker_open"`
	Quorate        bool      `json:"quorate"`
	VetoCount      int       `json:"veto_count"`
}

// vote 单个模型单轮的征询结果
type vote struct {
	provider   ai.Provider
	opinion    *ai.Opinion
	err        error
	latency    time.Duration
	vetoed     bool
	vetoReason string
}

func (v *vote) valid() bool {
	return v.err == nil && v.opinion != nil && !v.vetoed
}

// Decide 执行一个完整的两轮共识周期并落库
func (s *ConsensusService) Decide(ctx context.Context, input ai.Context) (*ConsensusOutcome, error) {
	if input.Round == 0 {
		input.Round = 1
	}

	if s.breakerOpen() {
		s.logger.Warn("consensus breaker open, skipping providers",
			zap.String("cycle_id", input.CycleID),
			zap.String("symbol", input.Symbol))
		if s.alert != nil {
			s.alert.Send(ctx, AlertWarning, CodeConsensusBreaker,
				fmt.Sprintf("熔断冷却中，%s 本周期直接观望", input.Symbol),
				map[string]any{"cycle_id": input.CycleID, "symbol": input.Symbol},
				s.alert.DedupKey(CodeConsensusBreaker, input.Symbol))
		}
		return &ConsensusOutcome{
			CycleID:     input.CycleID,
			Symbol:      input.Symbol,
			Action:      ai.ActionHold,
			BreakerOpen: true,
		}, nil
	}

	threshold := s.deviationThreshold(input)

	round1 := input
	round1.Round = 1
	votes1 := s.collect(ctx, round1)
	s.validate(votes1, threshold)

	provisional := aggregate(votes1)

	round2 := input
	round2.Round = 2
	round2.PeerBrief = peerBrief(votes1, provisional.Action)
	votes2 := s.collect(ctx, round2)
	s.validate(votes2, threshold)

	vetoCount := countVetoes(votes1) + countVetoes(votes2)
	tripped := s.recordVetoes(vetoCount)

	outcome := aggregate(votes2)
	outcome.CycleID = input.CycleID
	outcome.Symbol = input.Symbol
	outcome.VetoCount = vetoCount
	outcome.Quorate = true

	if s.quorumRequired() && countValid(votes2) < s.conf.Quorum {
		s.logger.Info("consensus quorum not met",
			zap.String("cycle_id", input.CycleID),
			zap.Int("valid", countValid(votes2)),
			zap.Int("quorum", s.conf.Quorum))
		outcome.Action = ai.ActionHold
		outcome.Quorate = false
	}

	if tripped {
		s.logger.Warn("consensus breaker tripped",
			zap.String("cycle_id", input.CycleID),
			zap.Int("veto_count", vetoCount))
		if s.alert != nil {
			s.alert.Send(ctx, AlertWarning, CodeConsensusBreaker,
				fmt.Sprintf("否决次数过多触发熔断，冷却 %d 秒", s.conf.CooldownSeconds),
				map[string]any{"cycle_id": input.CycleID, "veto_count": vetoCount},
				s.alert.DedupKey(CodeConsensusBreaker, input.Symbol))
		}
		outcome.Action = ai.ActionHold
		outcome.BreakerOpen = true
	}

	outcome.MajorityLock = outcome.Quorate && !outcome.BreakerOpen &&
		majorityLocked(votes2, provisional.Action, len(s.providers))

	if err := s.persist(ctx, input, votes1, votes2, outcome); err != nil {
		s.logger.Error("failed to persist consensus decision",
			zap.String("cycle_id", input.CycleID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("consensus decided",
		zap.String("cycle_id", input.CycleID),
		zap.String("symbol", input.Symbol),
		zap.String("action", string(outcome.Action)),
		zap.Float64("confidence", outcome.Confidence),
		zap.Bool("majority_lock", outcome.MajorityLock),
		zap.Int("veto_count", vetoCount))
	return outcome, nil
}

// deviationThreshold 当前周期使用的偏离阈值
func (s *ConsensusService) deviationThreshold(input ai.Context) float64 {
	if s.conf.DynamicThreshold && input.Price > 0 && input.ATR > 0 {
		t := s.conf.AtrThresholdMult * input.ATR / input.Price
		if t < dynamicThresholdFloor {
			return dynamicThresholdFloor
		}
		if t > dynamicThresholdCeil {
			return dynamicThresholdCeil
		}
		return t
	}
	return s.conf.DeviationThresholdFor()
}

func (s *ConsensusService) quorumRequired() bool {
	return len(s.providers) > 1
}

func (s *ConsensusService) breakerOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.breakerUntil)
}

// recordVetoes 把本周期的否决计入滚动窗口，超限则打开熔断器
func (s *ConsensusService) recordVetoes(count int) bool {
	if count <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := 0; i < count; i++ {
		s.vetoTimes = append(s.vetoTimes, now)
	}
	cutoff := now.Add(-vetoWindow)
	kept := s.vetoTimes[:0]
	for _, t := range s.vetoTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.vetoTimes = kept

	if len(s.vetoTimes) > s.conf.MaxVetoPerMinute {
		s.breakerUntil = now.Add(time.Duration(s.conf.CooldownSeconds) * time.Second)
		return true
	}
	return false
}

// collect 并行征询所有模型，单次调用失败后重试一次，仍失败按弃权处理
func (s *ConsensusService) collect(ctx context.Context, input ai.Context) []*vote {
	votes := make([]*vote, len(s.providers))
	var wg sync.WaitGroup
	for i, p := range s.providers {
		wg.Add(1)
		go func(i int, p ai.Provider) {
			defer wg.Done()
			votes[i] = s.callOne(ctx, p, input)
		}(i, p)
	}
	wg.Wait()
	return votes
}

func (s *ConsensusService) callOne(ctx context.Context, p ai.Provider, input ai.Context) *vote {
	started := s.now()
	opinion, err := s.callWithTimeout(ctx, p, input)
	if err != nil && !errors.Is(err, ai.ErrSchema) && !errors.Is(err, ai.ErrRateLimited) {
		s.logger.Warn("provider call failed, retrying once",
			zap.String("provider", p.Name()),
			zap.Int("round", input.Round),
			zap.Error(err))
		opinion, err = s.callWithTimeout(ctx, p, input)
	}
	latency := s.now().Sub(started)
	if err != nil {
		s.logger.Warn("provider abstained",
			zap.String("provider", p.Name()),
			zap.Int("round", input.Round),
			zap.Error(err))
	}
	return &vote{provider: p, opinion: opinion, err: err, latency: latency}
}

func (s *ConsensusService) callWithTimeout(ctx context.Context, p ai.Provider, input ai.Context) (*ai.Opinion, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return p.Propose(callCtx, input)
}

// validate 按否决规则标记每一票，规则按严重程度依次匹配
func (s *ConsensusService) validate(votes []*vote, threshold float64) {
	for _, v := range votes {
		if v.err != nil {
			if errors.Is(v.err, ai.ErrSchema) {
				v.vetoed = true
				v.vetoReason = VetoSchemaFail
			}
			continue
		}
		op := v.opinion
		if (op.Action == ai.ActionHold || op.Action == ai.ActionNone) && op.Confidence >= noneVetoConfidence {
			v.vetoed = true
			v.vetoReason = VetoNone
			continue
		}
		if outOfRange(op) {
			v.vetoed = true
			v.vetoReason = VetoOutOfRange
			continue
		}
	}

	// 偏离校验基于未被否决票的中位数
	markDeviations(votes, threshold)
}

func outOfRange(op *ai.Opinion) bool {
	if op.Leverage != 0 && (op.Leverage < trading.MinLeverage || op.Leverage > trading.MaxLeverage) {
		return true
	}
	if op.StopLoss < 0 || op.TakeProfit < 0 {
		return true
	}
	if op.QtyDeltaFactor < -1 || op.QtyDeltaFactor > 1 {
		return true
	}
	return false
}

// markDeviations 杠杆、止盈、止损三项中任意一项偏离中位数超过阈值即否决
func markDeviations(votes []*vote, threshold float64) {
	type field struct {
		pick func(*ai.Opinion) float64
	}
	fields := []field{
		{pick: func(op *ai.Opinion) float64 { return float64(op.Leverage) }},
		{pick: func(op *ai.Opinion) float64 { return op.TakeProfit }},
		{pick: func(op *ai.Opinion) float64 { return op.StopLoss }},
	}

	for _, f := range fields {
		var values []float64
		for _, v := range votes {
			if v.valid() && f.pick(v.opinion) > 0 {
				values = append(values, f.pick(v.opinion))
			}
		}
		if len(values) < 3 {
			continue
		}
		med := median(values)
		if med <= 0 {
			continue
		}
		for _, v := range votes {
			if !v.valid() {
				continue
			}
			val := f.pick(v.opinion)
			if val <= 0 {
				continue
			}
			if math.Abs(val-med)/med > threshold {
				v.vetoed = true
				v.vetoReason = VetoDeviation
			}
		}
	}
}

func countVetoes(votes []*vote) int {
	n := 0
	for _, v := range votes {
		if v.vetoed {
			n++
		}
	}
	return n
}

func countValid(votes []*vote) int {
	n := 0
	for _, v := range votes {
		if v.valid() {
			n++
		}
	}
	return n
}

// aggregate 对有效票做加权聚合
// 动作取权重多数，平局比较加权置信度；置信度取支持方的加权中位数；
// 止盈止损取支持方的截尾均值；数量因子取支持方均值
func aggregate(votes []*vote) *ConsensusOutcome {
	outcome := &ConsensusOutcome{Action: ai.ActionHold}

	var valid []*vote
	for _, v := range votes {
		if v.valid() {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return outcome
	}

	actionWeight := make(map[ai.Action]float64)
	actionConfWeight := make(map[ai.Action]float64)
	for _, v := range valid {
		w := v.provider.Weight()
		actionWeight[v.opinion.Action] += w
		actionConfWeight[v.opinion.Action] += w * v.opinion.Confidence
	}

	final := ai.ActionHold
	bestWeight, bestConf := -1.0, -1.0
	for action, w := range actionWeight {
		cw := actionConfWeight[action]
		if w > bestWeight || (w == bestWeight && cw > bestConf) {
			final, bestWeight, bestConf = action, w, cw
		}
	}
	outcome.Action = final

	var supporters []*vote
	for _, v := range valid {
		if v.opinion.Action == final {
			supporters = append(supporters, v)
		}
	}

	outcome.Confidence = weightedMedianConfidence(supporters)
	outcome.StopLoss = trimmedMean(pickValues(supporters, func(op *ai.Opinion) float64 { return op.StopLoss }))
	outcome.TakeProfit = trimmedMean(pickValues(supporters, func(op *ai.Opinion) float64 { return op.TakeProfit }))

	if levs := pickValues(supporters, func(op *ai.Opinion) float64 { return float64(op.Leverage) }); len(levs) > 0 {
		outcome.Leverage = trading.ClampLeverage(int(math.Round(median(levs))))
	}

	var deltaSum float64
	for _, v := range supporters {
		deltaSum += v.opinion.QtyDeltaFactor
	}
	outcome.QtyDeltaFactor = deltaSum / float64(len(supporters))

	return outcome
}

func pickValues(votes []*vote, pick func(*ai.Opinion) float64) []float64 {
	var values []float64
	for _, v := range votes {
		if val := pick(v.opinion); val > 0 {
			values = append(values, val)
		}
	}
	return values
}

// weightedMedianConfidence 权重归一化后按置信度排序取累计权重过半的那一票
func weightedMedianConfidence(votes []*vote) float64 {
	if len(votes) == 0 {
		return 0
	}
	sorted := make([]*vote, len(votes))
	copy(sorted, votes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].opinion.Confidence < sorted[j].opinion.Confidence
	})

	total := 0.0
	for _, v := range sorted {
		total += v.provider.Weight()
	}
	if total <= 0 {
		return sorted[len(sorted)/2].opinion.Confidence
	}

	acc := 0.0
	for _, v := range sorted {
		acc += v.provider.Weight() / total
		if acc >= 0.5 {
			return v.opinion.Confidence
		}
	}
	return sorted[len(sorted)-1].opinion.Confidence
}

// trimmedMean 三个以上样本时去掉最大最小各一个再取均值
func trimmedMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < 3 {
		return mean(values)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return mean(sorted[1 : len(sorted)-1])
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// majorityLocked 第二轮全员有效且一致复确认首轮结论，并且没有新增否决
func majorityLocked(votes2 []*vote, provisional ai.Action, providerCount int) bool {
	if countVetoes(votes2) > 0 {
		return false
	}
	valid := 0
	for _, v := range votes2 {
		if !v.valid() {
			continue
		}
		if v.opinion.Action != provisional {
			return false
		}
		valid++
	}
	return valid == providerCount && valid > 0
}

// peerBrief 给第二轮复述的首轮结果摘要
func peerBrief(votes1 []*vote, provisional ai.Action) string {
	var b strings.Builder
	for _, v := range votes1 {
		if v.err != nil {
			fmt.Fprintf(&b, "%s: abstained\n", v.provider.Name())
			continue
		}
		op := v.opinion
		if v.vetoed {
			fmt.Fprintf(&b, "%s: action=%s confidence=%.0f (vetoed: %s)\n",
				v.provider.Name(), op.Action, op.Confidence, v.vetoReason)
			continue
		}
		fmt.Fprintf(&b, "%s: action=%s confidence=%.0f leverage=%d stop_loss=%.4f take_profit=%.4f\n",
			v.provider.Name(), op.Action, op.Confidence, op.Leverage, op.StopLoss, op.TakeProfit)
	}
	fmt.Fprintf(&b, "provisional consensus: %s", provisional)
	return b.String()
}

// persist 落库本周期的全部模型意见和最终决策
func (s *ConsensusService) persist(ctx context.Context, input ai.Context, votes1, votes2 []*vote, outcome *ConsensusOutcome) error {
	executedAt := s.now()

	return s.Transaction(ctx, func(ctx context.Context) error {
		for round, votes := range [][]*vote{votes1, votes2} {
			for _, v := range votes {
				row := voteToLog(input, v, round+1, executedAt)
				if err := s.AiLogRepo.Create(ctx, row); err != nil {
					return err
				}
			}
		}

		decision := &models.ConsensusDecision{
			ID:              ulid.Make().String(),
			CycleID:         input.CycleID,
			Symbol:          input.Symbol,
			FinalAction:     string(outcome.Action),
			FinalConfidence: outcome.Confidence,
			StopLoss:        outcome.StopLoss,
			TakeProfit:      outcome.TakeProfit,
			QtyDeltaFactor:  outcome.QtyDeltaFactor,
			MajorityLock:    outcome.MajorityLock,
			VetoCount:       outcome.VetoCount,
			Round1:          votesToMap(votes1),
			Round2:          votesToMap(votes2),
			ExecutedAt:      executedAt,
		}
		return s.ConsensusDecisionRepo.Create(ctx, decision)
	})
}

func voteToLog(input ai.Context, v *vote, round int, executedAt time.Time) *models.AiLog {
	row := &models.AiLog{
		ID:         ulid.Make().String(),
		CycleID:    input.CycleID,
		Symbol:     input.Symbol,
		Round:      round,
		Provider:   v.provider.Name(),
		Vetoed:     v.vetoed,
		VetoReason: v.vetoReason,
		InputHash:  inputHash(input, round),
		Duration:   v.latency.Milliseconds(),
		ExecutedAt: executedAt,
	}
	if v.err != nil {
		row.Error = v.err.Error()
	}
	if v.opinion != nil {
		row.Model = v.opinion.Model
		row.Action = string(v.opinion.Action)
		row.Confidence = v.opinion.Confidence
		row.RawOutput = v.opinion.Raw
	}
	return row
}

func votesToMap(votes []*vote) datatypes.JSONMap {
	m := datatypes.JSONMap{}
	for _, v := range votes {
		entry := map[string]interface{}{
			"vetoed": v.vetoed,
		}
		if v.vetoReason != "" {
			entry["veto_reason"] = v.vetoReason
		}
		if v.err != nil {
			entry["error"] = v.err.Error()
		}
		if v.opinion != nil {
			entry["action"] = string(v.opinion.Action)
			entry["confidence"] = v.opinion.Confidence
			entry["leverage"] = v.opinion.Leverage
			entry["stop_loss"] = v.opinion.StopLoss
			entry["take_profit"] = v.opinion.TakeProfit
			entry["qty_delta_factor"] = v.opinion.QtyDeltaFactor
		}
		m[v.provider.Name()] = entry
	}
	return m
}

func inputHash(input ai.Context, round int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%.8f|%.8f", input.CycleID, input.Symbol, round, input.Price, input.ATR)))
	return hex.EncodeToString(sum[:])[:16]
}
