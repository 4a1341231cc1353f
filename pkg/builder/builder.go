package builder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wallethub-hq/intentrunner/pkg/logger"
	"github.com/wallethub-hq/intentrunner/pkg/models"
)

// ErrNoQuote is returned when a transaction is requested for a context
// that never acquired a quote.
var ErrNoQuote = errors.New("no quote available for transaction build")

// BuildError wraps a failure to assemble calldata or permit material.
type BuildError struct {
	Reason string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build transaction: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("build transaction: %s", e.Reason)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Permit2Contract is the canonical Permit2 deployment, identical on
// every chain it has been deployed to.
const Permit2Contract = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

// permitValidity bounds how long a signed permit stays usable when the
// intent carries no explicit deadline.
const permitValidity = 30 * time.Minute

const erc20ApproveABI = `[{
	"constant": false,
	"inputs": [
		{"name": "spender", "type": "address"},
		{"name": "amount", "type": "uint256"}
	],
	"name": "approve",
	"outputs": [{"name": "", "type": "bool"}],
	"type": "function"
}]`

// approveGasLimit is a fixed ceiling for a standard ERC-20 approve.
const approveGasLimit = 60000

// Builder assembles signable transactions from quotes. Token-moving
// routes prefer a Permit2 signature; when the route cannot consume one,
// the builder emits a bounded setup approval for the exact quoted amount.
// An unlimited allowance is never produced.
type Builder struct {
	erc20 abi.ABI
	log   logger.Logger
	now   func() time.Time
}

// NewBuilder creates a transaction builder.
func NewBuilder(log logger.Logger) (*Builder, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ApproveABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Builder{erc20: parsed, log: log, now: time.Now}, nil
}

// SetClock overrides the time source. Tests only.
func (b *Builder) SetClock(now func() time.Time) {
	b.now = now
}

// Build produces the signable transaction for ectx. The same context and
// quote always produce the same transaction.
func (b *Builder) Build(ctx context.Context, ectx *models.ExecutionContext) (*models.BuiltTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	quote := ectx.Quote
	if quote == nil {
		return nil, ErrNoQuote
	}
	if quote.To == "" {
		return nil, &BuildError{Reason: "quote has no target contract"}
	}

	chainID := ectx.Intent.ChainID
	if quote.SourceChain != 0 {
		chainID = quote.SourceChain
	}

	tx := &models.BuiltTransaction{
		To:       models.NormalizeAddress(quote.To),
		Data:     quote.CallData,
		Value:    "0",
		Gas:      quote.EstimatedGas,
		ChainID:  chainID,
		GasPrice: quote.GasPriceWei,
	}

	// Native-value routes carry the spend in the transaction value and
	// need neither a permit nor an allowance.
	if isNativeToken(quote.FromToken) {
		tx.Value = quote.FromAmount
		return tx, nil
	}
	if quote.AllowanceTarget == "" {
		return tx, nil
	}

	if quote.SupportsPermit2 {
		digest, err := b.permit2Digest(ectx, quote, chainID)
		if err != nil {
			return nil, err
		}
		tx.Permit2Signature = digest
		b.log.InfoWithChain(chainID, "built permit2 transaction for intent %s", ectx.IntentID)
		return tx, nil
	}

	setup, err := b.boundedApproval(quote)
	if err != nil {
		return nil, err
	}
	tx.SetupTransaction = setup
	b.log.InfoWithChain(chainID, "built approval-fallback transaction for intent %s", ectx.IntentID)
	return tx, nil
}

// boundedApproval packs an ERC-20 approve for exactly the quoted amount.
func (b *Builder) boundedApproval(quote *models.Quote) (*models.SetupTransaction, error) {
	amount, ok := new(big.Int).SetString(quote.FromAmount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, &BuildError{Reason: fmt.Sprintf("invalid quote amount %q", quote.FromAmount)}
	}
	data, err := b.erc20.Pack("approve", common.HexToAddress(quote.AllowanceTarget), amount)
	if err != nil {
		return nil, &BuildError{Reason: "failed to pack approve calldata", Err: err}
	}
	return &models.SetupTransaction{
		To:    models.NormalizeAddress(quote.FromToken),
		Data:  hexutil.Encode(data),
		Value: "0",
		Gas:   approveGasLimit,
	}, nil
}

var (
	eip712DomainTypehash   = crypto.Keccak256([]byte("EIP712Domain(string name,uint256 chainId,address verifyingContract)"))
	permit2NameHash        = crypto.Keccak256([]byte("Permit2"))
	permitTransferTypehash = crypto.Keccak256([]byte(
		"PermitTransferFrom(TokenPermissions permitted,address spender,uint256 nonce,uint256 deadline)TokenPermissions(address token,uint256 amount)"))
	tokenPermissionsTypehash = crypto.Keccak256([]byte("TokenPermissions(address token,uint256 amount)"))
)

// permit2Digest computes the EIP-712 digest of a PermitTransferFrom for
// the quoted amount. The nonce is derived from the intent ID, so the
// digest is stable across repeated builds of the same intent.
func (b *Builder) permit2Digest(ectx *models.ExecutionContext, quote *models.Quote, chainID int64) (string, error) {
	amount, ok := new(big.Int).SetString(quote.FromAmount, 10)
	if !ok || amount.Sign() <= 0 {
		return "", &BuildError{Reason: fmt.Sprintf("invalid quote amount %q", quote.FromAmount)}
	}

	deadline := b.now().Add(permitValidity).Unix()
	if ectx.Intent.Constraints != nil && ectx.Intent.Constraints.DeadlineUnix > 0 {
		deadline = ectx.Intent.Constraints.DeadlineUnix
	}
	nonce := new(big.Int).SetBytes(crypto.Keccak256([]byte(ectx.IntentID))[:16])

	domainSeparator := crypto.Keccak256(
		eip712DomainTypehash,
		permit2NameHash,
		uint256Bytes(big.NewInt(chainID)),
		addressBytes(Permit2Contract),
	)
	tokenPermissions := crypto.Keccak256(
		tokenPermissionsTypehash,
		addressBytes(quote.FromToken),
		uint256Bytes(amount),
	)
	structHash := crypto.Keccak256(
		permitTransferTypehash,
		tokenPermissions,
		addressBytes(quote.AllowanceTarget),
		uint256Bytes(nonce),
		uint256Bytes(big.NewInt(deadline)),
	)
	digest := crypto.Keccak256([]byte("\x19\x01"), domainSeparator, structHash)
	return hexutil.Encode(digest), nil
}

func uint256Bytes(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func addressBytes(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}

// isNativeToken reports whether token denotes the chain's native asset.
func isNativeToken(token string) bool {
	switch strings.ToLower(token) {
	case "", "0x0000000000000000000000000000000000000000",
		"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee":
		return true
	default:
		return false
	}
}
