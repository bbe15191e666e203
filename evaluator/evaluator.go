/*
Package evaluator decides whether an inbound order is worth filling.
Evaluation is a pure predicate: a bad order is rejected with a reason,
never an error. The single exception is a malformed token length,
which is an invariant violation and surfaces as a hard error.
*/
package evaluator

import (
	"context"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/order"
)

type OracleType string

const (
	OracleTypeUnsupported OracleType = ""
	OracleTypeEVM         OracleType = "EVM"
	OracleTypeBitcoin     OracleType = "Bitcoin"
)

// Path classifies which fulfillment leg an accepted order takes.
type Path string

const (
	PathEVM     Path = "evm"
	PathBitcoin Path = "bitcoin"
)

const maxBitcoinConfirmations = 3

// Result of an evaluation. Reason is set when Accepted is false.
type Result struct {
	Accepted bool
	Path     Path
	Reason   string
}

func reject(reason string) Result {
	logger.Infof("order rejected: %s", reason)
	return Result{Reason: reason}
}

// BalanceReader is the slice of etherman the evaluator needs.
type BalanceReader interface {
	Address() ethcommon.Address
	ERC20BalanceOf(ctx context.Context, token, account ethcommon.Address) (*big.Int, error)
	ERC20Allowance(ctx context.Context, token, owner, spender ethcommon.Address) (*big.Int, error)
}

// Config is immutable after construction.
type Config struct {
	// ApprovedOracles maps chain id -> oracle address -> type.
	ApprovedOracles map[uint64]map[ethcommon.Address]OracleType

	// CollateralTokens maps chain id -> supported collateral tokens.
	CollateralTokens map[uint64]map[ethcommon.Address]bool

	LimitOrderReactor   ethcommon.Address
	DutchAuctionReactor ethcommon.Address
}

type Evaluator struct {
	cfg    *Config
	chains map[uint64]BalanceReader
}

func New(cfg *Config, chains map[uint64]BalanceReader) *Evaluator {
	return &Evaluator{cfg: cfg, chains: chains}
}

func (e *Evaluator) oracleType(chainId uint64, oracle ethcommon.Address) OracleType {
	byAddr, ok := e.cfg.ApprovedOracles[chainId]
	if !ok {
		return OracleTypeUnsupported
	}
	return byAddr[oracle]
}

// EvaluateStandard applies the acceptance rules to a StandardOrder:
// approved oracles on both legs, a single consistent classification,
// well-formed Bitcoin tokens, and sufficient balance for EVM outputs.
func (e *Evaluator) EvaluateStandard(ctx context.Context, o *order.StandardOrder) (Result, error) {
	localType := e.oracleType(o.OriginChainId.Uint64(), o.LocalOracle)
	if localType == OracleTypeUnsupported {
		return reject("local oracle not approved"), nil
	}

	if len(o.Outputs) == 0 {
		return reject("order has no outputs"), nil
	}

	bitcoinOutputs := 0
	for i := range o.Outputs {
		output := &o.Outputs[i]
		remoteOracle := common.Bytes32ToAddress(output.Oracle)
		remoteType := e.oracleType(output.ChainId.Uint64(), remoteOracle)
		if remoteType == OracleTypeUnsupported {
			return reject("remote oracle not approved"), nil
		}

		// One Bitcoin leg forces every leg to be Bitcoin.
		isBitcoin := remoteType == OracleTypeBitcoin
		if isBitcoin != (localType == OracleTypeBitcoin) {
			return reject("mixed oracle classification"), nil
		}

		if isBitcoin {
			bitcoinOutputs++
			if result, ok, err := validateBitcoinOutput(output.Token, output.Call); err != nil || !ok {
				return result, err
			}
		} else {
			if result, ok, err := e.checkOutputBalance(ctx, output); err != nil || !ok {
				return result, err
			}
		}
	}

	if bitcoinOutputs > 1 {
		return reject("more than one Bitcoin output"), nil
	}

	path := PathEVM
	if bitcoinOutputs == 1 {
		path = PathBitcoin
	}
	return Result{Accepted: true, Path: path}, nil
}

// Evaluate applies the same rules to a legacy CrossChainOrder, plus
// the reactor check its tagged order data makes possible.
func (e *Evaluator) Evaluate(ctx context.Context, o *order.CrossChainOrder) (Result, error) {
	var localOracle ethcommon.Address
	var outputs []order.OutputDescription
	switch d := o.OrderData.(type) {
	case *order.LimitOrderData:
		if o.SettlementContract != e.cfg.LimitOrderReactor {
			return reject("unexpected limit order reactor"), nil
		}
		localOracle, outputs = d.LocalOracle, d.Outputs
	case *order.DutchAuctionOrderData:
		if o.SettlementContract != e.cfg.DutchAuctionReactor {
			return reject("unexpected dutch auction reactor"), nil
		}
		localOracle, outputs = d.LocalOracle, d.Outputs
	default:
		return reject("unknown order data type"), nil
	}

	localType := e.oracleType(uint64(o.OriginChainId), localOracle)
	if localType == OracleTypeUnsupported {
		return reject("local oracle not approved"), nil
	}

	if len(outputs) == 0 {
		return reject("order has no outputs"), nil
	}

	bitcoinOutputs := 0
	for i := range outputs {
		output := &outputs[i]
		remoteOracle := common.Bytes32ToAddress(output.RemoteOracle)
		remoteType := e.oracleType(uint64(output.ChainId), remoteOracle)
		if remoteType == OracleTypeUnsupported {
			return reject("remote oracle not approved"), nil
		}

		isBitcoin := remoteType == OracleTypeBitcoin
		if isBitcoin != (localType == OracleTypeBitcoin) {
			return reject("mixed oracle classification"), nil
		}

		if isBitcoin {
			bitcoinOutputs++
			if result, ok, err := validateBitcoinOutput(output.Token[:], output.RemoteCall); err != nil || !ok {
				return result, err
			}
		} else {
			chain, ok := e.chains[uint64(output.ChainId)]
			if !ok {
				return reject("no client for destination chain"), nil
			}
			balance, err := chain.ERC20BalanceOf(ctx, common.Bytes32ToAddress(output.Token), chain.Address())
			if err != nil {
				return Result{}, err
			}
			if balance.Cmp(output.Amount) < 0 {
				return reject("insufficient output token balance"), nil
			}
		}
	}

	if bitcoinOutputs > 1 {
		return reject("more than one Bitcoin output"), nil
	}

	path := PathEVM
	if bitcoinOutputs == 1 {
		path = PathBitcoin
	}
	return Result{Accepted: true, Path: path}, nil
}

func (e *Evaluator) checkOutputBalance(ctx context.Context, output *order.MandateOutput) (Result, bool, error) {
	chain, ok := e.chains[output.ChainId.Uint64()]
	if !ok {
		return reject("no client for destination chain"), false, nil
	}

	if len(output.Token) != 32 {
		return Result{}, false, common.ErrUnexpectedTokenLength
	}
	token := ethcommon.BytesToAddress(output.Token[12:])
	balance, err := chain.ERC20BalanceOf(ctx, token, chain.Address())
	if err != nil {
		return Result{}, false, err
	}
	if balance.Cmp(output.Amount) < 0 {
		return reject("insufficient output token balance"), false, nil
	}
	return Result{}, true, nil
}

// validateBitcoinOutput enforces the overloaded token layout: the
// sentinel prefix, a confirmation count the proof window can cover, a
// known address version, and no auxiliary call payload.
func validateBitcoinOutput(token []byte, call []byte) (Result, bool, error) {
	isBitcoin, err := common.IsBitcoinToken(token)
	if err != nil {
		return Result{}, false, err
	}
	if !isBitcoin {
		return reject("token does not carry the Bitcoin sentinel"), false, nil
	}

	if common.TokenConfirmations(token) > maxBitcoinConfirmations {
		return reject("too many confirmations required"), false, nil
	}

	version := common.TokenAddressVersion(token)
	if version == common.BtcAddressUnknown || version > common.BtcAddressP2TR {
		return reject("unsupported Bitcoin address version"), false, nil
	}

	if len(call) > 0 {
		return reject("Bitcoin output carries a remote call"), false, nil
	}

	return Result{}, true, nil
}

// CollateralResult mirrors Result for the collateral check.
type CollateralResult struct {
	Accepted     bool
	Reason       string
	NeedApproval bool // caller should set an allowance before initiating
}

// EvaluateCollateral checks that any required filler collateral is a
// supported token the solver can actually post. Zero collateral always
// passes.
func (e *Evaluator) EvaluateCollateral(ctx context.Context, o *order.CrossChainOrder) (CollateralResult, error) {
	var collateralToken ethcommon.Address
	var amount *big.Int
	switch d := o.OrderData.(type) {
	case *order.LimitOrderData:
		collateralToken, amount = d.CollateralToken, d.FillerCollateralAmount
	case *order.DutchAuctionOrderData:
		collateralToken, amount = d.CollateralToken, d.FillerCollateralAmount
	default:
		return CollateralResult{Reason: "unknown order data type"}, nil
	}

	if amount == nil || amount.Sign() == 0 {
		return CollateralResult{Accepted: true}, nil
	}

	if !e.cfg.CollateralTokens[uint64(o.OriginChainId)][collateralToken] {
		return CollateralResult{Reason: "unsupported collateral token"}, nil
	}

	chain, ok := e.chains[uint64(o.OriginChainId)]
	if !ok {
		return CollateralResult{Reason: "no client for origin chain"}, nil
	}

	balance, err := chain.ERC20BalanceOf(ctx, collateralToken, chain.Address())
	if err != nil {
		return CollateralResult{}, err
	}
	if balance.Cmp(amount) < 0 {
		return CollateralResult{Reason: "insufficient collateral balance"}, nil
	}

	allowance, err := chain.ERC20Allowance(ctx, collateralToken, chain.Address(), o.SettlementContract)
	if err != nil {
		return CollateralResult{}, err
	}

	return CollateralResult{Accepted: true, NeedApproval: allowance.Sign() == 0}, nil
}
