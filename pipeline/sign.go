package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"github.com/Futaba-Labs/catalyst-example-solver/btcman/address"
	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/order"
)

// SignedOrder is the solver's counter-signed offer for an order whose
// inputs originate outside any VM. The user pays Bitcoin to the
// deposit address; the rewritten output makes that payment the order's
// provable leg.
type SignedOrder struct {
	Order          *order.StandardOrder
	OrderId        [32]byte
	Signature      []byte
	DepositAddress string
}

// SignOrder takes an order template whose origin is Bitcoin, steps in
// as the swapper, and rewrites the first output to point at a freshly
// allocated deposit address. The returned signature commits the solver
// to the rewritten order.
func (p *Pipeline) SignOrder(ctx context.Context, o *order.StandardOrder) (*SignedOrder, error) {
	originChainId := o.OriginChainId.Uint64()
	settler, ok := p.cfg.Settlers[originChainId]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSettler, originChainId)
	}
	origin, ok := p.chains[originChainId]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, originChainId)
	}
	if len(o.Outputs) == 0 {
		return nil, fmt.Errorf("%w: order has no outputs", ErrOrderRejected)
	}

	// The solver takes the swapper seat; a random nonce keeps repeated
	// quotes for the same template distinct.
	o.User = origin.Address()
	if o.Nonce == nil || o.Nonce.Sign() == 0 {
		o.Nonce = common.RandBigInt(8)
	}

	output := &o.Outputs[0]
	depositAddress, pathIndex, err := p.wallet.NextSafeAddress(ctx, output.Amount.Int64())
	if err != nil {
		return nil, err
	}
	recipient, version, err := address.EncodeRecipient(depositAddress, p.cfg.ChainParams)
	if err != nil {
		return nil, err
	}

	output.Recipient = recipient
	output.Token = common.MakeBitcoinToken(depositConfirmations, version)
	output.Call = nil
	output.Context = nil

	// The rewritten order must still pass our own acceptance rules.
	result, err := p.eval.EvaluateStandard(ctx, o)
	if err != nil {
		return nil, err
	}
	if !result.Accepted {
		return nil, fmt.Errorf("%w: %s", ErrOrderRejected, result.Reason)
	}

	orderId, err := order.Identifier(settler, o)
	if err != nil {
		return nil, err
	}
	signature, err := origin.SignDigest(orderId)
	if err != nil {
		return nil, err
	}

	id := hex.EncodeToString(orderId[:])
	p.orders.set(id, func(t *Tracked) {
		t.Status = StatusEvaluated
		t.Path = string(result.Path)
	})
	logger.Infof("order %s: signed with deposit address %s (index %d)",
		common.Shorten(id, 8), depositAddress, pathIndex)

	return &SignedOrder{
		Order:          o,
		OrderId:        orderId,
		Signature:      signature,
		DepositAddress: depositAddress,
	}, nil
}
