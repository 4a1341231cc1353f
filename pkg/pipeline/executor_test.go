package pipeline

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallethub-hq/intentrunner/pkg/builder"
	"github.com/wallethub-hq/intentrunner/pkg/classifier"
	"github.com/wallethub-hq/intentrunner/pkg/config"
	"github.com/wallethub-hq/intentrunner/pkg/limiter"
	"github.com/wallethub-hq/intentrunner/pkg/models"
	"github.com/wallethub-hq/intentrunner/pkg/providers"
	"github.com/wallethub-hq/intentrunner/pkg/store"
)

const (
	pipelineTestTaker = "0x1234567890123456789012345678901234567890"
	testRouter        = "0xdef1c0ded9bec7f1a1670819833240f027b25eff"
	testBridgeRouter  = "0x3a23f943181408eac424116af7b7790c94cb97a5"
	testRecipient     = "0x9876543210987654321098765432109876543210"
)

// MockSwapProvider is a test implementation of a swap quote source
type MockSwapProvider struct {
	mu    sync.Mutex
	quote *models.Quote
	err   error
	calls int
}

func (m *MockSwapProvider) GetSwapQuote(_ context.Context, _ providers.SwapQuoteRequest) (*models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	quote := *m.quote
	return &quote, nil
}

func (m *MockSwapProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockBridgeProvider is a test implementation of a bridge quote source
type MockBridgeProvider struct {
	mu    sync.Mutex
	quote *models.Quote
	err   error
	calls int
}

func (m *MockBridgeProvider) GetBridgeQuote(_ context.Context, _ providers.BridgeQuoteRequest) (*models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	quote := *m.quote
	return &quote, nil
}

func (m *MockBridgeProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockBalanceProvider is a test implementation of a balance source
type MockBalanceProvider struct {
	balances []models.TokenBalance
	err      error
}

func (m *MockBalanceProvider) GetBalances(_ context.Context, _ string, _ int64) ([]models.TokenBalance, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.balances, nil
}

// MockRewardsProvider is a test implementation of a rewards source
type MockRewardsProvider struct {
	rewards []models.Reward
	err     error
}

func (m *MockRewardsProvider) GetClaimableRewards(_ context.Context, _ string, _ int64) ([]models.Reward, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rewards, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MetricsPort:      "0",
		ProviderTimeout:  time.Second,
		QuoteMaxAge:      30 * time.Second,
		GasWarnThreshold: new(big.Int).Mul(big.NewInt(50), big.NewInt(1_000_000_000)),
		SlippageWarnBps:  100,
		ViolationLogSize: 10,
		ViolationLogTTL:  time.Hour,
		TelemetryBuffer:  16,
		CircuitBreaker: config.CircuitBreakerConfig{
			Enabled:        true,
			Threshold:      3,
			WindowDuration: time.Minute,
			ResetTimeout:   time.Minute,
		},
	}
}

func testQuote() *models.Quote {
	return &models.Quote{
		FromToken:       "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		ToToken:         "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		FromAmount:      "100000000",
		ToAmount:        "54000000000000000",
		UsdValue:        decimal.RequireFromString("100"),
		SlippageBps:     40,
		EstimatedGas:    210000,
		GasPriceWei:     "20000000000",
		To:              testRouter,
		CallData:        "0xdeadbeef",
		AllowanceTarget: "0x000000000022d473030f116ddee9f6b43ac78ba3",
		SupportsPermit2: true,
	}
}

func testBridgeQuote() *models.Quote {
	return &models.Quote{
		FromToken:    "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		FromAmount:   "50000000",
		UsdValue:     decimal.RequireFromString("50"),
		EstimatedGas: 120000,
		GasPriceWei:  "20000000000",
		To:           testBridgeRouter,
		CallData:     "0xfeedcafe",
	}
}

type testHarness struct {
	executor *Executor
	store    *store.MemoryStore
}

func newHarness(t *testing.T, prov Providers) *testHarness {
	t.Helper()
	st := store.NewMemoryStore()
	lim := limiter.New(st, limiter.NewViolationLog(10, time.Hour), nil)
	bld, err := builder.NewBuilder(nil)
	require.NoError(t, err)

	exec := NewExecutor(testConfig(), st, classifier.NewPatternClassifier(), lim, bld, prov, nil, nil)
	return &testHarness{executor: exec, store: st}
}

func TestPlanAndExecuteSwap(t *testing.T) {
	swap := &MockSwapProvider{quote: testQuote()}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlanned, ectx.Status)
	assert.Equal(t, models.KindTradeSwap, ectx.Intent.Kind)
	assert.Equal(t, "100", ectx.Intent.Swap.FromAmount)

	ectx, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewed, ectx.Status)
	require.NotNil(t, ectx.Quote)
	require.NotNil(t, ectx.Preview)
	assert.Contains(t, ectx.Preview.Summary, "Swap 100 USDC")
	assert.Empty(t, ectx.Preview.Warnings)

	// Persisted state matches
	stored, err := h.store.FindByID(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewed, stored.Status)
	require.NotNil(t, stored.Quote)
}

func TestPlanAndExecuteTransfer(t *testing.T) {
	bridge := &MockBridgeProvider{quote: testBridgeQuote()}
	h := newHarness(t, Providers{Bridge: bridge})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "send 50 USDC to "+testRecipient, pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, models.KindBridgeTransfer, ectx.Intent.Kind)
	require.NotNil(t, ectx.Intent.Bridge)
	assert.Equal(t, models.NormalizeAddress(testRecipient), ectx.Intent.Bridge.Recipient)

	ectx, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewed, ectx.Status)
	assert.Equal(t, 1, bridge.Calls())
	require.NotNil(t, ectx.Preview)
	assert.Contains(t, ectx.Preview.Summary, "Send 50 USDC to")
	require.Len(t, ectx.Preview.TokenDeltas, 1)
	assert.Equal(t, models.DeltaOut, ectx.Preview.TokenDeltas[0].Direction)

	built, err := h.executor.BuildTransaction(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBuilding, built.Status)
	require.NotNil(t, built.Transaction)
	assert.Equal(t, models.NormalizeAddress(testBridgeRouter), built.Transaction.To)

	limits, err := h.store.GetLimits(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, limits.DailySpentUsd.Equal(decimal.RequireFromString("50")))
}

func TestPlanUnrecognizedCreatesNothing(t *testing.T) {
	h := newHarness(t, Providers{})
	ctx := context.Background()

	// Garbage input never reaches the store
	ectx, err := h.executor.Plan(ctx, "user-1", "asdkjasd", pipelineTestTaker, 1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, classifier.ErrUnrecognized))
	assert.Nil(t, ectx)
}

func TestExecuteProviderFailure(t *testing.T) {
	swap := &MockSwapProvider{err: errors.New("upstream 502")}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)

	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.Error(t, err)
	assert.True(t, providers.IsProviderError(err))

	stored, findErr := h.store.FindByID(ctx, ectx.IntentID)
	require.NoError(t, findErr)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "upstream 502")
}

func TestExecuteBalances(t *testing.T) {
	usd := decimal.RequireFromString("250")
	balances := &MockBalanceProvider{balances: []models.TokenBalance{
		{Token: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Amount: "250000000", UsdValue: &usd},
	}}
	h := newHarness(t, Providers{Balances: balances})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "show my balances", pipelineTestTaker, 1, nil)
	require.NoError(t, err)

	ectx, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewed, ectx.Status)
	assert.Nil(t, ectx.Quote)
	require.NotNil(t, ectx.Preview)
	assert.Contains(t, ectx.Preview.Summary, "1 token balance(s)")
}

func TestExecuteEmptyBalancesIsValid(t *testing.T) {
	h := newHarness(t, Providers{Balances: &MockBalanceProvider{}})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "show my balances", pipelineTestTaker, 1, nil)
	require.NoError(t, err)

	ectx, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewed, ectx.Status)
	assert.Contains(t, ectx.Preview.Summary, "0 token balance(s)")
}

func TestExecuteRewards(t *testing.T) {
	rewards := &MockRewardsProvider{rewards: []models.Reward{
		{Protocol: "aave", Token: "AAVE", Amount: "1200000000000000000"},
	}}
	h := newHarness(t, Providers{Rewards: rewards})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "claim my rewards", pipelineTestTaker, 1, nil)
	require.NoError(t, err)

	ectx, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewed, ectx.Status)
	assert.Contains(t, ectx.Preview.Summary, "1 claimable reward(s)")
}

func TestPreviewWarnings(t *testing.T) {
	quote := testQuote()
	quote.SlippageBps = 150           // above the 100 bps threshold
	quote.GasPriceWei = "80000000000" // 80 gwei, above the 50 gwei threshold
	swap := &MockSwapProvider{quote: quote}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)

	ectx, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	require.NotNil(t, ectx.Preview)
	require.Len(t, ectx.Preview.Warnings, 2)
	assert.Contains(t, ectx.Preview.Warnings[0], "high slippage")
	assert.Contains(t, ectx.Preview.Warnings[1], "gas prices are high")
}

func TestLimiterDryRunBecomesWarning(t *testing.T) {
	swap := &MockSwapProvider{quote: testQuote()}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	capValue := decimal.RequireFromString("50")
	require.NoError(t, h.store.SetLimits(ctx, &models.UserLimits{UserID: "user-1", DailyUsdCap: &capValue}))

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)

	// Over the cap, but preview still succeeds with a warning
	ectx, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewed, ectx.Status)
	require.NotEmpty(t, ectx.Preview.Warnings)
	assert.Contains(t, ectx.Preview.Warnings[0], "spending limit")
}

func TestBuildTransactionHappyPath(t *testing.T) {
	swap := &MockSwapProvider{quote: testQuote()}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)

	built, err := h.executor.BuildTransaction(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBuilding, built.Status)
	require.NotNil(t, built.Transaction)
	assert.Equal(t, models.NormalizeAddress(testRouter), built.Transaction.To)
	assert.NotEmpty(t, built.Transaction.Permit2Signature)
	require.NotNil(t, built.ExecutedAt)

	// The spend landed exactly once
	limits, err := h.store.GetLimits(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, limits.DailySpentUsd.Equal(decimal.RequireFromString("100")))

	// The pipeline stops at building; submitted/completed belong to the
	// external broadcast monitor
	stored, err := h.store.FindByID(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBuilding, stored.Status)
}

func TestBuildTransactionCapRejectionIsFatal(t *testing.T) {
	swap := &MockSwapProvider{quote: testQuote()}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	// The warning at preview becomes a hard stop at build
	capValue := decimal.RequireFromString("50")
	require.NoError(t, h.store.SetLimits(ctx, &models.UserLimits{UserID: "user-1", DailyUsdCap: &capValue}))

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)

	_, err = h.executor.BuildTransaction(ctx, ectx.IntentID)
	require.Error(t, err)
	assert.True(t, limiter.IsRejection(err))

	stored, findErr := h.store.FindByID(ctx, ectx.IntentID)
	require.NoError(t, findErr)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Nil(t, stored.Transaction)

	// Nothing was spent
	limits, err := h.store.GetLimits(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, limits.DailySpentUsd.IsZero())
}

func TestBuildTransactionRecipientNotAllowlisted(t *testing.T) {
	bridge := &MockBridgeProvider{quote: testBridgeQuote()}
	h := newHarness(t, Providers{Bridge: bridge})
	ctx := context.Background()

	// Allowlist names the swap router only; the transfer recipient is a
	// stranger to it
	require.NoError(t, h.store.SetLimits(ctx, &models.UserLimits{
		UserID:    "user-1",
		Allowlist: []string{testRouter},
	}))

	ectx, err := h.executor.Plan(ctx, "user-1", "send 50 USDC to "+testRecipient, pipelineTestTaker, 1, nil)
	require.NoError(t, err)

	// The dry-run rejection surfaces as a preview warning, not a failure
	ectx, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewed, ectx.Status)
	require.NotEmpty(t, ectx.Preview.Warnings)
	assert.Contains(t, ectx.Preview.Warnings[0], "allowlist")

	// At build the same rejection is fatal
	_, err = h.executor.BuildTransaction(ctx, ectx.IntentID)
	require.Error(t, err)
	assert.True(t, limiter.IsRejection(err))

	stored, findErr := h.store.FindByID(ctx, ectx.IntentID)
	require.NoError(t, findErr)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "allowlist")
	assert.Nil(t, stored.Transaction)

	limits, err := h.store.GetLimits(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, limits.DailySpentUsd.IsZero())
}

func TestBuildTransactionConcurrentOneWinner(t *testing.T) {
	swap := &MockSwapProvider{quote: testQuote()}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)

	// Concurrent builds on one intent: exactly one wins
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.executor.BuildTransaction(ctx, ectx.IntentID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, store.ErrStatusConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 4, conflicts)

	// Exactly one spend was recorded
	limits, err := h.store.GetLimits(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, limits.DailySpentUsd.Equal(decimal.RequireFromString("100")))
}

func TestBuildTransactionRefreshesStaleQuote(t *testing.T) {
	quote := testQuote()
	swap := &MockSwapProvider{quote: quote}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	base := time.Now()
	current := base
	h.executor.SetClock(func() time.Time { return current })

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, 1, swap.Calls())

	// Past the 30s freshness window the quote must be re-fetched
	current = base.Add(45 * time.Second)
	built, err := h.executor.BuildTransaction(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, 2, swap.Calls())
	require.NotNil(t, built.Transaction)
}

func TestBuildTransactionFreshQuoteNotRefetched(t *testing.T) {
	swap := &MockSwapProvider{quote: testQuote()}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)

	_, err = h.executor.BuildTransaction(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, 1, swap.Calls())
}

func TestBuildTransactionUsesCachedQuote(t *testing.T) {
	swap := &MockSwapProvider{quote: testQuote()}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	ectx, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, 1, swap.Calls())

	// Age the persisted copy past the freshness window; the in-process
	// cache still holds the fresh quote, so the build must not re-fetch
	aged := *ectx.Quote
	aged.FetchedAt = time.Now().Add(-time.Minute)
	require.NoError(t, h.store.UpdateStatus(ctx, ectx.IntentID,
		models.StatusPreviewed, models.StatusPreviewed, &store.ContextPatch{Quote: &aged}))

	built, err := h.executor.BuildTransaction(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, 1, swap.Calls())
	require.NotNil(t, built.Transaction)
}

func TestBuildTransactionFromWrongStatus(t *testing.T) {
	swap := &MockSwapProvider{quote: testQuote()}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)

	// Still planned: building is two stages ahead
	_, err = h.executor.BuildTransaction(ctx, ectx.IntentID)
	assert.ErrorIs(t, err, store.ErrStatusConflict)
}

func TestCancelIntent(t *testing.T) {
	swap := &MockSwapProvider{quote: testQuote()}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	// Cancel from planned
	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	require.NoError(t, h.executor.CancelIntent(ctx, ectx.IntentID))

	stored, err := h.store.FindByID(ctx, ectx.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, stored.Status)

	// Cancel from previewed
	ectx, err = h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	require.NoError(t, h.executor.CancelIntent(ctx, ectx.IntentID))

	// Cancel from building is refused
	ectx, err = h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	_, err = h.executor.BuildTransaction(ctx, ectx.IntentID)
	require.NoError(t, err)

	err = h.executor.CancelIntent(ctx, ectx.IntentID)
	assert.ErrorIs(t, err, ErrCancelNotAllowed)
}

func TestTerminalStatusReleasesIntentState(t *testing.T) {
	swap := &MockSwapProvider{quote: testQuote()}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	// Cancellation drops the cached quote and the lock map entry
	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.NoError(t, err)
	_, ok := h.executor.quotes.Get(ectx.IntentID)
	require.True(t, ok)
	require.NoError(t, h.executor.CancelIntent(ctx, ectx.IntentID))

	_, ok = h.executor.quotes.Get(ectx.IntentID)
	assert.False(t, ok)
	h.executor.mu.Lock()
	_, ok = h.executor.intentLocks[ectx.IntentID]
	h.executor.mu.Unlock()
	assert.False(t, ok)

	// So does a pipeline failure
	swap.mu.Lock()
	swap.err = errors.New("upstream down")
	swap.mu.Unlock()
	ectx, err = h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.Error(t, err)

	h.executor.mu.Lock()
	_, ok = h.executor.intentLocks[ectx.IntentID]
	h.executor.mu.Unlock()
	assert.False(t, ok)
}

func TestMonitorTransaction(t *testing.T) {
	h := newHarness(t, Providers{})
	ctx := context.Background()

	require.NoError(t, h.executor.MonitorTransaction(ctx, "tx-1", models.TxStatusConfirmed))

	status, ok := h.store.TransactionStatus("tx-1")
	require.True(t, ok)
	assert.Equal(t, models.TxStatusConfirmed, status)

	assert.Error(t, h.executor.MonitorTransaction(ctx, "tx-1", "vanished"))
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	swap := &MockSwapProvider{err: errors.New("upstream down")}
	h := newHarness(t, Providers{Swap: swap})
	ctx := context.Background()

	// Threshold is 3: trip the swap breaker
	for i := 0; i < 3; i++ {
		ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
		require.NoError(t, err)
		_, err = h.executor.Execute(ctx, ectx.IntentID)
		require.Error(t, err)
	}
	calls := swap.Calls()
	assert.Equal(t, 3, calls)

	// The open breaker refuses the next call without reaching the provider
	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)
	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBreakerOpen))
	assert.Equal(t, calls, swap.Calls())
}

func TestExecuteUnconfiguredProvider(t *testing.T) {
	h := newHarness(t, Providers{})
	ctx := context.Background()

	ectx, err := h.executor.Plan(ctx, "user-1", "swap 100 USDC to ETH", pipelineTestTaker, 1, nil)
	require.NoError(t, err)

	_, err = h.executor.Execute(ctx, ectx.IntentID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, providers.ErrNotConfigured))

	stored, findErr := h.store.FindByID(ctx, ectx.IntentID)
	require.NoError(t, findErr)
	assert.Equal(t, models.StatusFailed, stored.Status)
}
