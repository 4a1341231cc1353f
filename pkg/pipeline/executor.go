package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wallethub-hq/intentrunner/pkg/builder"
	"github.com/wallethub-hq/intentrunner/pkg/circuitbreaker"
	"github.com/wallethub-hq/intentrunner/pkg/classifier"
	"github.com/wallethub-hq/intentrunner/pkg/config"
	"github.com/wallethub-hq/intentrunner/pkg/limiter"
	"github.com/wallethub-hq/intentrunner/pkg/logger"
	"github.com/wallethub-hq/intentrunner/pkg/metrics"
	"github.com/wallethub-hq/intentrunner/pkg/models"
	"github.com/wallethub-hq/intentrunner/pkg/providers"
	"github.com/wallethub-hq/intentrunner/pkg/store"
	"github.com/wallethub-hq/intentrunner/pkg/telemetry"
)

var (
	// ErrCancelNotAllowed is returned when cancellation is requested from
	// building onward; a transaction may already be in flight by then.
	ErrCancelNotAllowed = errors.New("intent can only be cancelled while planned or previewed")

	// ErrBreakerOpen is wrapped in a ProviderError when a provider's
	// circuit breaker refuses the call.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// Providers bundles the upstream quote and data sources the executor
// dispatches to. Unwired fields default to providers.Unconfigured.
type Providers struct {
	Swap     providers.SwapQuoteProvider
	Bridge   providers.BridgeQuoteProvider
	Balances providers.BalanceProvider
	Rewards  providers.RewardsProvider
}

func (p *Providers) fillDefaults() {
	if p.Swap == nil {
		p.Swap = providers.Unconfigured{}
	}
	if p.Bridge == nil {
		p.Bridge = providers.Unconfigured{}
	}
	if p.Balances == nil {
		p.Balances = providers.Unconfigured{}
	}
	if p.Rewards == nil {
		p.Rewards = providers.Unconfigured{}
	}
}

// Executor drives execution contexts through the pipeline state machine.
// Each context is advanced by exactly one goroutine at a time: a
// per-intent lock serializes in-process callers, and every status write
// is a compare-and-swap in the store, so concurrent processes racing on
// the same intent produce one winner and one status conflict.
type Executor struct {
	intents    store.IntentStore
	classifier classifier.Classifier
	limiter    *limiter.Limiter
	builder    *builder.Builder
	providers  Providers
	breakers   map[string]*circuitbreaker.CircuitBreaker
	quotes     *providers.QuoteCache
	sink       telemetry.Sink
	log        logger.Logger
	cfg        *config.Config
	now        func() time.Time

	mu          sync.Mutex
	intentLocks map[string]*sync.Mutex
	lockOrder   []string
}

// maxIntentLocks bounds the per-intent lock map. Locks are dropped as
// soon as an intent reaches a terminal status; the FIFO cap covers
// intents that stop at building and never come back.
const maxIntentLocks = 4096

// NewExecutor wires an executor. The limiter, builder, and store are
// required; providers left nil fail with ErrNotConfigured when reached.
func NewExecutor(cfg *config.Config, intents store.IntentStore, cls classifier.Classifier, lim *limiter.Limiter, bld *builder.Builder, prov Providers, sink telemetry.Sink, log logger.Logger) *Executor {
	prov.fillDefaults()
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, 4)
	for _, kind := range []string{providers.KindSwap, providers.KindBridge, providers.KindBalances, providers.KindRewards} {
		breakers[kind] = circuitbreaker.New(kind, cfg.CircuitBreaker.Enabled, cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration, cfg.CircuitBreaker.ResetTimeout, log)
	}
	return &Executor{
		intents:     intents,
		classifier:  cls,
		limiter:     lim,
		builder:     bld,
		providers:   prov,
		breakers:    breakers,
		quotes:      providers.NewQuoteCache(cfg.QuoteMaxAge),
		sink:        sink,
		log:         log,
		cfg:         cfg,
		now:         time.Now,
		intentLocks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source. Tests only.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
	e.quotes.SetClock(now)
}

// Breakers exposes provider breaker state for the health endpoint.
func (e *Executor) Breakers() map[string]*circuitbreaker.CircuitBreaker {
	return e.breakers
}

func (e *Executor) intentLock(intentID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.intentLocks[intentID]
	if !ok {
		for len(e.intentLocks) >= maxIntentLocks && len(e.lockOrder) > 0 {
			oldest := e.lockOrder[0]
			e.lockOrder = e.lockOrder[1:]
			delete(e.intentLocks, oldest)
		}
		lock = &sync.Mutex{}
		e.intentLocks[intentID] = lock
		e.lockOrder = append(e.lockOrder, intentID)
	}
	return lock
}

// dropIntentLock releases the lock map entry for a finished intent.
// Callers still holding the old mutex keep serializing against each
// other; a terminal status makes every later transition a CAS failure
// regardless of which mutex a new caller gets.
func (e *Executor) dropIntentLock(intentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.intentLocks, intentID)
	for i, id := range e.lockOrder {
		if id == intentID {
			e.lockOrder = append(e.lockOrder[:i], e.lockOrder[i+1:]...)
			break
		}
	}
}

// Plan classifies raw user text and creates a planned execution context.
// A classification failure creates nothing downstream; the caller gets
// ErrUnrecognized verbatim.
func (e *Executor) Plan(ctx context.Context, userID, text, taker string, chainID int64, constraints *models.Constraints) (*models.ExecutionContext, error) {
	parsed, err := e.classifier.Classify(ctx, text)
	if err != nil {
		return nil, err
	}

	intent, err := models.BuildIntent(parsed, taker, chainID, constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to build intent from classification: %w", err)
	}

	now := e.now()
	ectx := &models.ExecutionContext{
		IntentID:  uuid.NewString(),
		UserID:    userID,
		Intent:    *intent,
		Status:    models.StatusPlanned,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.intents.Create(ctx, ectx); err != nil {
		return nil, err
	}

	e.log.InfoWithChain(chainID, "planned intent %s (%s) for user %s", ectx.IntentID, intent.Kind, userID)
	e.emit(userID, "intent.planned", map[string]any{
		"intent_id":             ectx.IntentID,
		"kind":                  string(intent.Kind),
		"risk_level":            string(parsed.RiskLevel),
		"requires_confirmation": parsed.RequiresConfirmation,
	})
	return ectx, nil
}

// Execute advances a planned context through preflight to previewed.
// Provider errors transition the context to failed, persist the message,
// and are returned to the caller without automatic retry.
func (e *Executor) Execute(ctx context.Context, intentID string) (*models.ExecutionContext, error) {
	lock := e.intentLock(intentID)
	lock.Lock()
	defer lock.Unlock()

	ectx, err := e.intents.FindByID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	started := e.now()
	if err := e.transition(ctx, ectx, models.StatusPlanned, models.StatusPreflight, nil); err != nil {
		return nil, err
	}

	quote, preview, err := e.preflight(ctx, ectx)
	if err != nil {
		return ectx, e.markFailed(ctx, ectx, "preflight", err)
	}
	ectx.Quote = quote
	if quote != nil {
		e.quotes.Put(intentID, quote)
	}

	preview = e.finishPreview(ctx, ectx, preview)
	if err := e.transition(ctx, ectx, models.StatusPreflight, models.StatusPreviewed, &store.ContextPatch{
		Quote:   quote,
		Preview: preview,
	}); err != nil {
		return ectx, err
	}

	metrics.PreviewDuration.WithLabelValues(string(ectx.Intent.Kind)).Observe(e.now().Sub(started).Seconds())
	e.log.InfoWithChain(ectx.Intent.ChainID, "intent %s previewed with %d warning(s)", intentID, len(preview.Warnings))
	return ectx, nil
}

// preflight dispatches on the intent variant and returns the quote
// and/or the variant-specific part of the preview.
func (e *Executor) preflight(ctx context.Context, ectx *models.ExecutionContext) (*models.Quote, *models.Preview, error) {
	intent := &ectx.Intent
	switch intent.Kind {
	case models.KindTradeSwap:
		quote, err := e.fetchSwapQuote(ctx, ectx)
		if err != nil {
			return nil, nil, err
		}
		return quote, swapPreview(intent, quote), nil

	case models.KindBridgeTransfer:
		quote, err := e.fetchBridgeQuote(ctx, ectx)
		if err != nil {
			return nil, nil, err
		}
		return quote, bridgePreview(intent, quote), nil

	case models.KindBalancesGet:
		var balances []models.TokenBalance
		err := e.callProvider(ctx, providers.KindBalances, func(ctx context.Context) error {
			var err error
			balances, err = e.providers.Balances.GetBalances(ctx, intent.TakerAddress, intent.ChainID)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return nil, balancesPreview(intent, balances), nil

	case models.KindRewardsClaim:
		var rewards []models.Reward
		err := e.callProvider(ctx, providers.KindRewards, func(ctx context.Context) error {
			var err error
			rewards, err = e.providers.Rewards.GetClaimableRewards(ctx, intent.TakerAddress, intent.ChainID)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return nil, rewardsPreview(intent, rewards), nil

	default:
		return nil, nil, fmt.Errorf("unsupported intent kind: %s", intent.Kind)
	}
}

func (e *Executor) fetchSwapQuote(ctx context.Context, ectx *models.ExecutionContext) (*models.Quote, error) {
	intent := &ectx.Intent
	var quote *models.Quote
	err := e.callProvider(ctx, providers.KindSwap, func(ctx context.Context) error {
		var err error
		quote, err = e.providers.Swap.GetSwapQuote(ctx, providers.SwapQuoteRequest{
			TakerAddress: intent.TakerAddress,
			ChainID:      intent.ChainID,
			FromToken:    intent.Swap.FromToken,
			ToToken:      intent.Swap.ToToken,
			FromAmount:   intent.Swap.FromAmount,
			Constraints:  intent.Constraints,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if quote.FetchedAt.IsZero() {
		quote.FetchedAt = e.now()
	}
	return quote, nil
}

func (e *Executor) fetchBridgeQuote(ctx context.Context, ectx *models.ExecutionContext) (*models.Quote, error) {
	intent := &ectx.Intent
	var quote *models.Quote
	err := e.callProvider(ctx, providers.KindBridge, func(ctx context.Context) error {
		var err error
		quote, err = e.providers.Bridge.GetBridgeQuote(ctx, providers.BridgeQuoteRequest{
			TakerAddress:     intent.TakerAddress,
			SourceChain:      intent.ChainID,
			DestinationChain: intent.Bridge.DestinationChain,
			Token:            intent.Bridge.Token,
			Amount:           intent.Bridge.Amount,
			Recipient:        intent.Bridge.Recipient,
			Constraints:      intent.Constraints,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if quote.FetchedAt.IsZero() {
		quote.FetchedAt = e.now()
	}
	return quote, nil
}

// callProvider wraps an upstream call with the provider's circuit
// breaker and the configured timeout. A timed-out call is a provider
// error like any other.
func (e *Executor) callProvider(ctx context.Context, kind string, call func(ctx context.Context) error) error {
	breaker := e.breakers[kind]
	if breaker != nil && breaker.IsOpen() {
		metrics.ProviderErrors.WithLabelValues(kind).Inc()
		return &providers.ProviderError{Provider: kind, Err: ErrBreakerOpen}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()

	err := call(callCtx)
	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		metrics.ProviderErrors.WithLabelValues(kind).Inc()
		if providers.IsProviderError(err) {
			return err
		}
		return &providers.ProviderError{Provider: kind, Err: err}
	}
	if breaker != nil {
		breaker.RecordSuccess()
	}
	return nil
}

// BuildTransaction advances a previewed context to building and attaches
// the signable transaction. The status CAS makes exactly one of any set
// of concurrent callers win; the rest get ErrStatusConflict. The limiter
// is re-checked here fatally and the spend is recorded idempotently.
func (e *Executor) BuildTransaction(ctx context.Context, intentID string) (*models.ExecutionContext, error) {
	lock := e.intentLock(intentID)
	lock.Lock()
	defer lock.Unlock()

	ectx, err := e.intents.FindByID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	started := e.now()
	if err := e.transition(ctx, ectx, models.StatusPreviewed, models.StatusBuilding, nil); err != nil {
		return nil, err
	}

	// The cache only returns entries inside the freshness window; on a
	// hit the cached copy wins over whatever FetchedAt the store loaded.
	quote := ectx.Quote
	if cached, ok := e.quotes.Get(intentID); ok {
		quote = cached
		ectx.Quote = cached
	}
	if quote == nil {
		return ectx, e.markFailed(ctx, ectx, "build", builder.ErrNoQuote)
	}

	// A quote past its freshness window no longer reflects the market;
	// re-fetch before committing funds against it.
	if quote.IsStale(e.now(), e.cfg.QuoteMaxAge) {
		fresh, err := e.refreshQuote(ctx, ectx)
		if err != nil {
			return ectx, e.markFailed(ctx, ectx, "build", err)
		}
		quote = fresh
		ectx.Quote = fresh
		e.quotes.Put(intentID, fresh)
		metrics.QuoteRefreshes.Inc()
		e.log.DebugWithChain(ectx.Intent.ChainID, "refreshed stale quote for intent %s", intentID)
	}

	if err := e.limiter.CheckAndReserve(ctx, ectx.UserID, quote.UsdValue, counterparty(ectx)); err != nil {
		return ectx, e.markFailed(ctx, ectx, "build", err)
	}

	tx, err := e.builder.Build(ctx, ectx)
	if err != nil {
		return ectx, e.markFailed(ctx, ectx, "build", err)
	}

	executedAt := e.now()
	if err := e.transition(ctx, ectx, models.StatusBuilding, models.StatusBuilding, &store.ContextPatch{
		Quote:       quote,
		Transaction: tx,
		ExecutedAt:  &executedAt,
	}); err != nil {
		return ectx, err
	}
	ectx.Transaction = tx

	if err := e.limiter.RecordSpend(ctx, ectx.UserID, intentID, quote.UsdValue); err != nil {
		// Funds accounting must not fail silently after the transaction
		// exists; surface it as a persistence-class failure.
		e.log.Error("failed to record spend for intent %s: %v", intentID, err)
		return ectx, err
	}

	metrics.BuildDuration.WithLabelValues(string(ectx.Intent.Kind)).Observe(e.now().Sub(started).Seconds())
	e.emit(ectx.UserID, "transaction.built", map[string]any{
		"intent_id": intentID,
		"to":        tx.To,
		"permit2":   tx.Permit2Signature != "",
	})
	e.log.InfoWithChain(ectx.Intent.ChainID, "built transaction for intent %s (usd value %s)", intentID, quote.UsdValue.StringFixed(2))
	return ectx, nil
}

// refreshQuote re-runs the quote provider for a swap or bridge context.
func (e *Executor) refreshQuote(ctx context.Context, ectx *models.ExecutionContext) (*models.Quote, error) {
	switch ectx.Intent.Kind {
	case models.KindTradeSwap:
		return e.fetchSwapQuote(ctx, ectx)
	case models.KindBridgeTransfer:
		return e.fetchBridgeQuote(ctx, ectx)
	default:
		return nil, builder.ErrNoQuote
	}
}

// counterparty picks the address the limiter's allowlist is checked
// against: the external recipient for transfers, the target contract
// otherwise.
func counterparty(ectx *models.ExecutionContext) string {
	if ectx.Intent.Kind == models.KindBridgeTransfer && ectx.Intent.Bridge != nil {
		return ectx.Intent.Bridge.Recipient
	}
	if ectx.Quote != nil {
		return ectx.Quote.To
	}
	return ""
}

// CancelIntent rejects an intent. Allowed only while planned or
// previewed; from building onward a transaction may already be in
// flight and cancellation is refused.
func (e *Executor) CancelIntent(ctx context.Context, intentID string) error {
	lock := e.intentLock(intentID)
	lock.Lock()
	defer lock.Unlock()

	ectx, err := e.intents.FindByID(ctx, intentID)
	if err != nil {
		return err
	}
	if ectx.Status != models.StatusPlanned && ectx.Status != models.StatusPreviewed {
		return fmt.Errorf("%w (status %s)", ErrCancelNotAllowed, ectx.Status)
	}
	if err := e.transition(ctx, ectx, ectx.Status, models.StatusRejected, nil); err != nil {
		return err
	}

	metrics.CancelledIntents.Inc()
	e.emit(ectx.UserID, "intent.cancelled", map[string]any{"intent_id": intentID})
	e.log.Info("intent %s cancelled by user %s", intentID, ectx.UserID)
	return nil
}

// MonitorTransaction records a broadcast outcome reported by the
// external transaction monitor. It is a reporting sink, not a pipeline
// transition.
func (e *Executor) MonitorTransaction(ctx context.Context, transactionID, status string) error {
	if !models.IsValidTransactionStatus(status) {
		return fmt.Errorf("invalid transaction status: %s", status)
	}
	if err := e.intents.RecordTransactionStatus(ctx, transactionID, status); err != nil {
		return err
	}
	e.log.Info("transaction %s reported %s", transactionID, status)
	return nil
}

// transition performs a CAS status update, mirrors it onto the in-memory
// context, and emits the stage telemetry.
func (e *Executor) transition(ctx context.Context, ectx *models.ExecutionContext, from, to models.Status, patch *store.ContextPatch) error {
	if err := e.intents.UpdateStatus(ctx, ectx.IntentID, from, to, patch); err != nil {
		if store.IsPersistenceError(err) {
			metrics.PersistenceFailures.WithLabelValues("update_status").Inc()
			e.log.Error("persistence failure moving intent %s %s -> %s: %v", ectx.IntentID, from, to, err)
		}
		return err
	}
	ectx.Status = to
	ectx.UpdatedAt = e.now()
	if patch != nil {
		if patch.Quote != nil {
			ectx.Quote = patch.Quote
		}
		if patch.Preview != nil {
			ectx.Preview = patch.Preview
		}
		if patch.Transaction != nil {
			ectx.Transaction = patch.Transaction
		}
		if patch.ExecutedAt != nil {
			ectx.ExecutedAt = patch.ExecutedAt
		}
	}
	if from != to {
		metrics.StageTransitions.WithLabelValues(string(to)).Inc()
		e.emit(ectx.UserID, "stage.entered", map[string]any{
			"intent_id": ectx.IntentID,
			"from":      string(from),
			"to":        string(to),
		})
	}
	if to.IsTerminal() {
		metrics.IntentsExecuted.WithLabelValues(string(ectx.Intent.Kind), string(to)).Inc()
		e.quotes.Invalidate(ectx.IntentID)
		e.dropIntentLock(ectx.IntentID)
	}
	return nil
}

// markFailed transitions the context to failed with a persisted
// human-readable message and returns the original cause. A persistence
// failure while recording the failure is joined onto the cause so
// neither is lost.
func (e *Executor) markFailed(ctx context.Context, ectx *models.ExecutionContext, stage string, cause error) error {
	msg := cause.Error()
	metrics.PipelineFailures.WithLabelValues(stage, errorClass(cause)).Inc()
	e.emit(ectx.UserID, "pipeline.failed", map[string]any{
		"intent_id": ectx.IntentID,
		"stage":     stage,
		"class":     errorClass(cause),
		"error":     msg,
	})
	e.log.ErrorWithChain(ectx.Intent.ChainID, "intent %s failed at %s: %v", ectx.IntentID, stage, cause)

	if err := e.transition(ctx, ectx, ectx.Status, models.StatusFailed, &store.ContextPatch{Error: &msg}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// errorClass buckets an error for the failure metrics.
func errorClass(err error) string {
	switch {
	case errors.Is(err, classifier.ErrUnrecognized):
		return "classification"
	case limiter.IsRejection(err):
		return "limiter"
	case providers.IsProviderError(err):
		return "provider"
	case store.IsPersistenceError(err):
		return "persistence"
	case errors.Is(err, store.ErrStatusConflict):
		return "conflict"
	case errors.Is(err, builder.ErrNoQuote):
		return "build"
	default:
		var be *builder.BuildError
		if errors.As(err, &be) {
			return "build"
		}
		return "internal"
	}
}

func (e *Executor) emit(userID, eventType string, payload map[string]any) {
	e.sink.Log(userID, eventType, payload)
}
