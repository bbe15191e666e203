/*
Package pipeline drives an order from reception to claim: evaluate,
fill on the destination leg (EVM contract call or Bitcoin payment),
validate the fill through the configured oracle backend, and finally
claim the inputs on the origin chain. Each order's progress is kept in
an in-memory tracker the reporter exposes.
*/
package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	logger "github.com/sirupsen/logrus"

	"github.com/Futaba-Labs/catalyst-example-solver/btcman/address"
	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/etherman"
	"github.com/Futaba-Labs/catalyst-example-solver/evaluator"
	"github.com/Futaba-Labs/catalyst-example-solver/order"
)

var (
	ErrUnknownChain  = errors.New("no client for chain")
	ErrNoSettler     = errors.New("no settler configured for chain")
	ErrOrderRejected = errors.New("order rejected")
)

const defaultUnderwritingDuration = 5 * time.Minute

// depositConfirmations is what the solver demands before treating an
// inbound Bitcoin payment as final.
const depositConfirmations = 3

// ChainClient is the slice of etherman the pipeline drives.
type ChainClient interface {
	ChainId() *big.Int
	Address() ethcommon.Address
	SolverIdentifier() [32]byte
	SignDigest(digest [32]byte) ([]byte, error)
	Initiate(ctx context.Context, o *order.CrossChainOrder, signature, fillerData []byte) (*types.Receipt, error)
	ParseOrderInitiated(receipt *types.Receipt, reactor ethcommon.Address) (*order.OrderKey, [32]byte, error)
	Fill(ctx context.Context, filler ethcommon.Address, orderId [32]byte, output *order.MandateOutput, solverId [32]byte) (*types.Receipt, error)
	FillLegacy(ctx context.Context, oracle ethcommon.Address, outputs []order.OutputDescription, fillTimes []uint32) (*types.Receipt, error)
	SubmitFillDescriptions(ctx context.Context, oracle, filler ethcommon.Address, payloads [][]byte) (*types.Receipt, error)
	ReceiveMessage(ctx context.Context, oracle ethcommon.Address, rawMessage []byte) (*types.Receipt, error)
	FinaliseSelf(ctx context.Context, settler ethcommon.Address, o *order.StandardOrder, signatures []byte, timestamps []uint32, solver [32]byte) (*types.Receipt, error)
	ERC20Approve(ctx context.Context, token, spender ethcommon.Address, amount *big.Int) (*types.Receipt, error)
	BlockTimestamp(ctx context.Context, number *big.Int) (uint32, error)
}

// BitcoinFiller is the slice of the wallet engine the pipeline drives.
type BitcoinFiller interface {
	NextSafeAddress(ctx context.Context, amount int64) (string, uint32, error)
	MakeTransaction(ctx context.Context, recipient string, amount int64, embed []byte) (*wire.MsgTx, error)
	BroadcastTransaction(ctx context.Context, tx *wire.MsgTx) (string, error)
}

type Config struct {
	// Settlers maps origin chain id -> settler contract used for the
	// order identifier and the claim.
	Settlers map[uint64]ethcommon.Address

	// ProofOracles marks local oracles whose fills are validated
	// through the external proof service instead of the message relay.
	ProofOracles map[ethcommon.Address]bool

	ProofServiceURL string

	// UnderwritingDuration bounds how long an initiated legacy order
	// stays purchasable.
	UnderwritingDuration time.Duration

	// Discount applied when reselling initiated orders, in [0, 1).
	Discount float64

	ChainParams *chaincfg.Params
}

type Pipeline struct {
	cfg    *Config
	eval   *evaluator.Evaluator
	wallet BitcoinFiller
	chains map[uint64]ChainClient
	proofs *ProofClient
	orders *tracker
}

func New(cfg *Config, eval *evaluator.Evaluator, wallet BitcoinFiller, chains map[uint64]ChainClient) *Pipeline {
	if cfg.UnderwritingDuration == 0 {
		cfg.UnderwritingDuration = defaultUnderwritingDuration
	}

	var proofs *ProofClient
	if cfg.ProofServiceURL != "" {
		proofs = NewProofClient(cfg.ProofServiceURL)
	}

	return &Pipeline{
		cfg:    cfg,
		eval:   eval,
		wallet: wallet,
		chains: chains,
		proofs: proofs,
		orders: newTracker(),
	}
}

// Order returns a snapshot of one tracked order.
func (p *Pipeline) Order(id string) (*Tracked, bool) { return p.orders.get(id) }

func (p *Pipeline) OrderCount() int { return p.orders.count() }

func (p *Pipeline) transition(id string, status Status) {
	p.orders.set(id, func(t *Tracked) { t.Status = status })
	logger.Infof("order %s: status=%s", common.Shorten(id, 8), status)
}

func (p *Pipeline) fail(id string, err error) error {
	p.orders.set(id, func(t *Tracked) {
		t.Status = StatusFailed
		t.Reason = err.Error()
	})
	logger.Warnf("order %s: failed: %v", common.Shorten(id, 8), err)
	return err
}

// evmFill locates a mined fill for later proof retrieval.
type evmFill struct {
	chainId  uint64
	txHash   ethcommon.Hash
	logIndex uint
}

type fillOutcome struct {
	timestamps []uint32
	btcTxId    string
	fills      []evmFill
}

// ExecuteStandard runs a StandardOrder end to end. The sponsor and
// allocator signatures arrive with the order and are only needed for
// the final claim.
func (p *Pipeline) ExecuteStandard(ctx context.Context, o *order.StandardOrder, sponsorSig, allocatorSig []byte) error {
	originChainId := o.OriginChainId.Uint64()
	settler, ok := p.cfg.Settlers[originChainId]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSettler, originChainId)
	}
	origin, ok := p.chains[originChainId]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChain, originChainId)
	}

	orderId, err := order.Identifier(settler, o)
	if err != nil {
		return err
	}
	id := hex.EncodeToString(orderId[:])
	p.transition(id, StatusReceived)

	// 1. Evaluate.
	result, err := p.eval.EvaluateStandard(ctx, o)
	if err != nil {
		return p.fail(id, err)
	}
	if !result.Accepted {
		p.orders.set(id, func(t *Tracked) {
			t.Status = StatusRejected
			t.Reason = result.Reason
		})
		return fmt.Errorf("%w: %s", ErrOrderRejected, result.Reason)
	}
	p.orders.set(id, func(t *Tracked) {
		t.Status = StatusEvaluated
		t.Path = string(result.Path)
	})

	// 2. Fill the destination leg.
	var outcome *fillOutcome
	if result.Path == evaluator.PathBitcoin {
		outcome, err = p.fillBitcoin(ctx, id, o)
	} else {
		outcome, err = p.fillEVM(ctx, orderId, o)
	}
	if err != nil {
		return p.fail(id, err)
	}
	p.orders.set(id, func(t *Tracked) {
		t.Status = StatusFilled
		t.BtcTxId = outcome.btcTxId
		if len(outcome.fills) > 0 {
			t.FillTxId = outcome.fills[0].txHash.Hex()
		}
	})

	// 3. Validate through the oracle backend.
	if err := p.validate(ctx, origin, orderId, o, outcome); err != nil {
		return p.fail(id, err)
	}
	p.transition(id, StatusValidated)

	// 4. Claim the inputs on the origin chain.
	signatures, err := etherman.PackSignatures(sponsorSig, allocatorSig)
	if err != nil {
		return p.fail(id, err)
	}
	if _, err := origin.FinaliseSelf(ctx, settler, o, signatures, outcome.timestamps, origin.SolverIdentifier()); err != nil {
		return p.fail(id, err)
	}
	p.transition(id, StatusClaimed)
	return nil
}

// fillBitcoin pays the single Bitcoin output. The oracle matches the
// payment on address and amount; the output's remote-call bytes ride
// along as an OP_RETURN when present, which for Bitcoin outputs they
// never are.
func (p *Pipeline) fillBitcoin(ctx context.Context, id string, o *order.StandardOrder) (*fillOutcome, error) {
	var output *order.MandateOutput
	for i := range o.Outputs {
		isBitcoin, err := o.Outputs[i].IsBitcoin()
		if err != nil {
			return nil, err
		}
		if isBitcoin {
			output = &o.Outputs[i]
			break
		}
	}
	if output == nil {
		return nil, errors.New("no Bitcoin output on bitcoin path")
	}

	recipient, err := address.Decode(common.TokenAddressVersion(output.Token), output.Recipient, p.cfg.ChainParams)
	if err != nil {
		return nil, err
	}

	tx, err := p.wallet.MakeTransaction(ctx, recipient, output.Amount.Int64(), output.Call)
	if err != nil {
		return nil, err
	}
	txId, err := p.wallet.BroadcastTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	logger.Infof("order %s: bitcoin fill broadcast: tx=%s to=%s amount=%d",
		common.Shorten(id, 8), txId, recipient, output.Amount.Int64())
	return &fillOutcome{
		timestamps: []uint32{uint32(time.Now().Unix())},
		btcTxId:    txId,
	}, nil
}

// fillEVM pays each output through its destination settler contract.
func (p *Pipeline) fillEVM(ctx context.Context, orderId [32]byte, o *order.StandardOrder) (*fillOutcome, error) {
	outcome := &fillOutcome{}
	for i := range o.Outputs {
		output := &o.Outputs[i]
		chainId := output.ChainId.Uint64()
		chain, ok := p.chains[chainId]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainId)
		}

		if len(output.Token) != 32 {
			return nil, common.ErrUnexpectedTokenLength
		}
		token := ethcommon.BytesToAddress(output.Token[12:])
		filler := common.Bytes32ToAddress(output.Settler)

		// The filler pulls the tokens, so the allowance comes first.
		if _, err := chain.ERC20Approve(ctx, token, filler, output.Amount); err != nil {
			return nil, err
		}

		receipt, err := chain.Fill(ctx, filler, orderId, output, chain.SolverIdentifier())
		if err != nil {
			return nil, err
		}

		ts, err := chain.BlockTimestamp(ctx, receipt.BlockNumber)
		if err != nil {
			return nil, err
		}

		fill := evmFill{chainId: chainId, txHash: receipt.TxHash}
		if len(receipt.Logs) > 0 {
			fill.logIndex = receipt.Logs[0].Index
		}
		outcome.timestamps = append(outcome.timestamps, ts)
		outcome.fills = append(outcome.fills, fill)
	}
	return outcome, nil
}

// validate proves the fills to the origin chain's local oracle. Proof
// oracles consume an externally generated attestation; everything else
// goes through the message relay, which also covers oracles this
// solver has no explicit backend entry for.
func (p *Pipeline) validate(ctx context.Context, origin ChainClient, orderId [32]byte, o *order.StandardOrder, outcome *fillOutcome) error {
	if p.cfg.ProofOracles[o.LocalOracle] {
		if p.proofs == nil {
			return errors.New("proof oracle configured without proof service")
		}
		return p.validateViaProofService(ctx, origin, o.LocalOracle, outcome)
	}

	if _, known := p.cfg.ProofOracles[o.LocalOracle]; !known {
		logger.Warnf("local oracle %s has no validation backend entry, using message relay", o.LocalOracle)
	}
	return p.validateViaRelay(ctx, orderId, o, outcome)
}

func (p *Pipeline) validateViaProofService(ctx context.Context, origin ChainClient, oracle ethcommon.Address, outcome *fillOutcome) error {
	for _, fill := range outcome.fills {
		proof, err := p.proofs.AwaitProof(ctx, fill.chainId, fill.txHash.Hex(), fill.logIndex)
		if err != nil {
			return err
		}
		if _, err := origin.ReceiveMessage(ctx, oracle, proof); err != nil {
			return err
		}
	}
	return nil
}

// validateViaRelay submits each fill description to the relay oracle
// on the output's destination chain; the relay carries it back to the
// local oracle on the origin chain.
func (p *Pipeline) validateViaRelay(ctx context.Context, orderId [32]byte, o *order.StandardOrder, outcome *fillOutcome) error {
	for i := range o.Outputs {
		output := &o.Outputs[i]
		chainId := output.ChainId.Uint64()
		chain, ok := p.chains[chainId]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownChain, chainId)
		}

		var ts uint32
		if i < len(outcome.timestamps) {
			ts = outcome.timestamps[i]
		} else if len(outcome.timestamps) > 0 {
			ts = outcome.timestamps[0]
		}

		payload, err := order.FillDescription(chain.SolverIdentifier(), orderId, ts, output)
		if err != nil {
			return err
		}

		oracle := common.Bytes32ToAddress(output.Oracle)
		filler := common.Bytes32ToAddress(output.Settler)
		if _, err := chain.SubmitFillDescriptions(ctx, oracle, filler, [][]byte{payload}); err != nil {
			return err
		}
	}
	return nil
}
