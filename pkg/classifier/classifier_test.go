package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallethub-hq/intentrunner/pkg/models"
)

func TestClassifySwap(t *testing.T) {
	c := NewPatternClassifier()

	parsed, err := c.Classify(context.Background(), "swap 100 USDC to ETH")
	require.NoError(t, err)
	assert.Equal(t, string(models.KindTradeSwap), parsed.Action)
	assert.Equal(t, "100", parsed.Entities["fromAmount"])
	assert.Equal(t, "USDC", parsed.Entities["fromToken"])
	assert.Equal(t, "ETH", parsed.Entities["toToken"])
	assert.Equal(t, models.RiskMedium, parsed.RiskLevel)
	assert.False(t, parsed.RequiresConfirmation)
}

func TestClassifySwapForPhrase(t *testing.T) {
	c := NewPatternClassifier()

	parsed, err := c.Classify(context.Background(), "please swap 0.5 eth for usdc")
	require.NoError(t, err)
	assert.Equal(t, string(models.KindTradeSwap), parsed.Action)
	assert.Equal(t, "0.5", parsed.Entities["fromAmount"])
	assert.Equal(t, "ETH", parsed.Entities["fromToken"])
	assert.Equal(t, "USDC", parsed.Entities["toToken"])
}

func TestClassifyTransfer(t *testing.T) {
	c := NewPatternClassifier()

	parsed, err := c.Classify(context.Background(), "send 50 USDC to 0x1234567890123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, string(models.KindBridgeTransfer), parsed.Action)
	assert.Equal(t, "50", parsed.Entities["amount"])
	assert.Equal(t, "USDC", parsed.Entities["token"])
	assert.Equal(t, "0x1234567890123456789012345678901234567890", parsed.Entities["recipient"])
	assert.Equal(t, models.RiskHigh, parsed.RiskLevel)
	assert.True(t, parsed.RequiresConfirmation)
}

func TestClassifyBalances(t *testing.T) {
	c := NewPatternClassifier()

	for _, text := range []string{"show my balances", "what are my holdings?", "portfolio please"} {
		parsed, err := c.Classify(context.Background(), text)
		require.NoError(t, err, text)
		assert.Equal(t, string(models.KindBalancesGet), parsed.Action, text)
		assert.Equal(t, models.RiskLow, parsed.RiskLevel)
	}
}

func TestClassifyRewards(t *testing.T) {
	c := NewPatternClassifier()

	parsed, err := c.Classify(context.Background(), "claim my staking rewards")
	require.NoError(t, err)
	assert.Equal(t, string(models.KindRewardsClaim), parsed.Action)
}

func TestClassifyUnrecognized(t *testing.T) {
	c := NewPatternClassifier()

	_, err := c.Classify(context.Background(), "asdkjasd")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnrecognized))

	_, err = c.Classify(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrUnrecognized))
}

func TestClassifyCancelledContext(t *testing.T) {
	c := NewPatternClassifier()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Classify(ctx, "swap 100 USDC to ETH")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnrecognized))
}
