package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	logger "github.com/sirupsen/logrus"

	"github.com/Futaba-Labs/catalyst-example-solver/btcman/address"
	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/order"
)

// legacyId keys a legacy order in the tracker before the reactor has
// assigned its canonical hash.
func legacyId(o *order.CrossChainOrder) string {
	packed := make([]byte, 0, 72)
	packed = append(packed, o.SettlementContract.Bytes()...)
	packed = append(packed, o.Swapper.Bytes()...)
	nonce := common.BigInt2Bytes32(o.Nonce)
	packed = append(packed, nonce[:]...)
	return hex.EncodeToString(crypto.Keccak256(packed))
}

// ExecuteLegacy runs a legacy CrossChainOrder: evaluate, post
// collateral if needed, initiate on the reactor, then fill the outputs
// the reactor confirmed in its OrderInitiated event. Validation and
// claiming of legacy orders ride on the reactor's own challenge
// machinery, so the flow ends at filled.
func (p *Pipeline) ExecuteLegacy(ctx context.Context, o *order.CrossChainOrder, signature []byte) error {
	originChainId := uint64(o.OriginChainId)
	origin, ok := p.chains[originChainId]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChain, originChainId)
	}

	id := legacyId(o)
	p.transition(id, StatusReceived)

	// 1. Evaluate the order and its collateral demand.
	result, err := p.eval.Evaluate(ctx, o)
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

	collateral, err := p.eval.EvaluateCollateral(ctx, o)
	if err != nil {
		return p.fail(id, err)
	}
	if !collateral.Accepted {
		p.orders.set(id, func(t *Tracked) {
			t.Status = StatusRejected
			t.Reason = collateral.Reason
		})
		return fmt.Errorf("%w: %s", ErrOrderRejected, collateral.Reason)
	}
	p.orders.set(id, func(t *Tracked) {
		t.Status = StatusEvaluated
		t.Path = string(result.Path)
	})

	if collateral.NeedApproval {
		token, amount := collateralDemand(o)
		if _, err := origin.ERC20Approve(ctx, token, o.SettlementContract, amount); err != nil {
			return p.fail(id, err)
		}
	}

	// 2. Initiate. The filler data makes the initiated order
	// purchasable at a discount until the underwriting window closes.
	deadline := uint32(time.Now().Add(p.cfg.UnderwritingDuration).Unix())
	fillerData := order.FillerData(origin.Address(), deadline, p.cfg.Discount, nil)

	receipt, err := origin.Initiate(ctx, o, signature, fillerData)
	if err != nil {
		return p.fail(id, err)
	}

	key, orderHash, err := origin.ParseOrderInitiated(receipt, o.SettlementContract)
	if err != nil {
		// A successful initiation without the event is an invariant
		// violation, never retried.
		return p.fail(id, err)
	}
	p.orders.set(id, func(t *Tracked) {
		t.Status = StatusInitiated
		t.FillTxId = receipt.TxHash.Hex()
	})
	logger.Infof("order %s: initiated as %x", common.Shorten(id, 8), orderHash)

	// 3. Fill the outputs the reactor confirmed.
	btcTxId, err := p.fillLegacyOutputs(ctx, id, key)
	if err != nil {
		return p.fail(id, err)
	}
	p.orders.set(id, func(t *Tracked) {
		t.Status = StatusFilled
		t.BtcTxId = btcTxId
	})
	return nil
}

func collateralDemand(o *order.CrossChainOrder) (ethcommon.Address, *big.Int) {
	switch d := o.OrderData.(type) {
	case *order.LimitOrderData:
		return d.CollateralToken, d.FillerCollateralAmount
	case *order.DutchAuctionOrderData:
		return d.CollateralToken, d.FillerCollateralAmount
	}
	return ethcommon.Address{}, nil
}

// fillLegacyOutputs pays each confirmed output, Bitcoin outputs
// directly and EVM outputs batched per destination oracle.
func (p *Pipeline) fillLegacyOutputs(ctx context.Context, id string, key *order.OrderKey) (string, error) {
	type batch struct {
		outputs   []order.OutputDescription
		fillTimes []uint32
	}
	batches := make(map[uint64]map[ethcommon.Address]*batch)
	btcTxId := ""

	for i := range key.Outputs {
		output := &key.Outputs[i]
		isBitcoin, err := common.IsBitcoinToken(output.Token[:])
		if err != nil {
			return "", err
		}

		if isBitcoin {
			if btcTxId != "" {
				return "", errors.New("more than one Bitcoin output confirmed")
			}
			btcTxId, err = p.payBitcoinOutput(ctx, id, output)
			if err != nil {
				return "", err
			}
			continue
		}

		chainId := uint64(output.ChainId)
		oracle := common.Bytes32ToAddress(output.RemoteOracle)
		if batches[chainId] == nil {
			batches[chainId] = make(map[ethcommon.Address]*batch)
		}
		if batches[chainId][oracle] == nil {
			batches[chainId][oracle] = &batch{}
		}
		b := batches[chainId][oracle]
		b.outputs = append(b.outputs, *output)
		b.fillTimes = append(b.fillTimes, uint32(time.Now().Unix()))
	}

	for chainId, byOracle := range batches {
		chain, ok := p.chains[chainId]
		if !ok {
			return "", fmt.Errorf("%w: %d", ErrUnknownChain, chainId)
		}
		for oracle, b := range byOracle {
			// The oracle pulls the output tokens on fill.
			for i := range b.outputs {
				token := common.Bytes32ToAddress(b.outputs[i].Token)
				if _, err := chain.ERC20Approve(ctx, token, oracle, b.outputs[i].Amount); err != nil {
					return "", err
				}
			}
			if _, err := chain.FillLegacy(ctx, oracle, b.outputs, b.fillTimes); err != nil {
				return "", err
			}
		}
	}
	return btcTxId, nil
}

func (p *Pipeline) payBitcoinOutput(ctx context.Context, id string, output *order.OutputDescription) (string, error) {
	recipient, err := address.Decode(common.TokenAddressVersion(output.Token[:]), output.Recipient, p.cfg.ChainParams)
	if err != nil {
		return "", err
	}

	tx, err := p.wallet.MakeTransaction(ctx, recipient, output.Amount.Int64(), output.RemoteCall)
	if err != nil {
		return "", err
	}
	txId, err := p.wallet.BroadcastTransaction(ctx, tx)
	if err != nil {
		return "", err
	}

	logger.Infof("order %s: bitcoin fill broadcast: tx=%s to=%s amount=%d",
		common.Shorten(id, 8), txId, recipient, output.Amount.Int64())
	return txId, nil
}
