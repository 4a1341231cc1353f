package classifier

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/wallethub-hq/intentrunner/pkg/models"
)

// ErrUnrecognized is returned when no supported action can be extracted
// from the input. The pipeline treats it as terminal: the request is not
// retried and nothing downstream runs.
var ErrUnrecognized = errors.New("unrecognized intent")

// Classifier turns free-form user text into a structured ParsedIntent.
type Classifier interface {
	Classify(ctx context.Context, text string) (*models.ParsedIntent, error)
}

// PatternClassifier recognizes the supported actions with regular
// expressions. It is deterministic and needs no external service, which
// keeps the pipeline testable end to end; deployments can swap in an
// LLM-backed Classifier without touching the executor.
type PatternClassifier struct{}

// NewPatternClassifier creates the pattern-based classifier.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

var _ Classifier = (*PatternClassifier)(nil)

var (
	swapPattern    = regexp.MustCompile(`(?i)\bswap\s+([\d.]+)\s+(\w+)\s+(?:to|for)\s+(\w+)`)
	sendPattern    = regexp.MustCompile(`(?i)\b(?:send|transfer|bridge)\s+([\d.]+)\s+(\w+)\s+to\s+(0x[0-9a-fA-F]{40})\b`)
	balancePattern = regexp.MustCompile(`(?i)\b(balance|balances|holdings|portfolio)\b`)
	rewardsPattern = regexp.MustCompile(`(?i)\bclaim\b.*\brewards?\b|\brewards?\b.*\bclaim\b`)
)

// Classify extracts an action and entities from text. Swap and transfer
// phrasings carry their amounts and tokens as entities; balance and
// rewards queries carry none.
func (c *PatternClassifier) Classify(ctx context.Context, text string) (*models.ParsedIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty input", ErrUnrecognized)
	}

	if m := swapPattern.FindStringSubmatch(trimmed); m != nil {
		return models.NewParsedIntent(string(models.KindTradeSwap), map[string]string{
			"fromAmount": m[1],
			"fromToken":  strings.ToUpper(m[2]),
			"toToken":    strings.ToUpper(m[3]),
		}, 0.9, models.RiskMedium), nil
	}

	if m := sendPattern.FindStringSubmatch(trimmed); m != nil {
		// Moving funds to an external address is the riskiest action we
		// recognize, so it always requires confirmation.
		return models.NewParsedIntent(string(models.KindBridgeTransfer), map[string]string{
			"amount":    m[1],
			"token":     strings.ToUpper(m[2]),
			"recipient": m[3],
		}, 0.85, models.RiskHigh), nil
	}

	if rewardsPattern.MatchString(trimmed) {
		return models.NewParsedIntent(string(models.KindRewardsClaim), map[string]string{}, 0.8, models.RiskMedium), nil
	}

	if balancePattern.MatchString(trimmed) {
		return models.NewParsedIntent(string(models.KindBalancesGet), map[string]string{}, 0.95, models.RiskLow), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnrecognized, truncate(trimmed, 80))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
