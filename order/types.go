/*
Package order defines the cross-chain order model and its on-chain
encodings: the ABI encoding of legacy order data, the packed order
identifier hash, the packed fill description consumed by the oracle,
and the versioned filler metadata passed to initiation.
*/
package order

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
)

// MandateOutput is one requested output of a StandardOrder. For
// Bitcoin-bound outputs Token is overloaded: sentinel prefix,
// confirmation count and address version instead of an ERC20 address.
type MandateOutput struct {
	Oracle    [32]byte
	Settler   [32]byte
	ChainId   *big.Int
	Token     []byte // 32 bytes
	Amount    *big.Int
	Recipient [32]byte
	Call      []byte
	Context   []byte
}

// IsBitcoin reports whether the output's token carries the Bitcoin
// sentinel. A token that is not exactly 32 bytes is an invariant
// violation, not a rejection.
func (o *MandateOutput) IsBitcoin() (bool, error) {
	return common.IsBitcoinToken(o.Token)
}

// StandardOrder is the current order format delivered by the order
// server. Inputs are (tokenOrLockId, amount) pairs.
type StandardOrder struct {
	User          ethcommon.Address
	Nonce         *big.Int
	OriginChainId *big.Int
	Expires       uint32
	FillDeadline  uint32
	LocalOracle   ethcommon.Address
	Inputs        [][2]*big.Int
	Outputs       []MandateOutput
}

// Input is a legacy (token, amount) order input.
type Input struct {
	Token  ethcommon.Address
	Amount *big.Int
}

// OutputDescription is a legacy order output.
type OutputDescription struct {
	RemoteOracle [32]byte
	Token        [32]byte
	Amount       *big.Int
	Recipient    [32]byte
	ChainId      uint32
	RemoteCall   []byte
}

// OrderData is the tagged union carried by a legacy CrossChainOrder.
type OrderData interface {
	isOrderData()
}

type LimitOrderData struct {
	ProofDeadline              uint32
	ChallengeDeadline          uint32
	CollateralToken            ethcommon.Address
	FillerCollateralAmount     *big.Int
	ChallengerCollateralAmount *big.Int
	LocalOracle                ethcommon.Address
	Inputs                     []Input
	Outputs                    []OutputDescription
}

func (*LimitOrderData) isOrderData() {}

type DutchAuctionOrderData struct {
	VerificationContext        [32]byte
	VerificationContract       ethcommon.Address
	ProofDeadline              uint32
	ChallengeDeadline          uint32
	CollateralToken            ethcommon.Address
	FillerCollateralAmount     *big.Int
	ChallengerCollateralAmount *big.Int
	LocalOracle                ethcommon.Address
	SlopeStartingTime          uint32
	InputSlopes                []*big.Int
	OutputSlopes               []*big.Int
	Inputs                     []Input
	Outputs                    []OutputDescription
}

func (*DutchAuctionOrderData) isOrderData() {}

// CrossChainOrder is the legacy order format, kept for the `order`
// transport event.
type CrossChainOrder struct {
	SettlementContract ethcommon.Address
	Swapper            ethcommon.Address
	Nonce              *big.Int
	OriginChainId      uint32
	InitiateDeadline   uint32
	FillDeadline       uint32
	OrderData          OrderData
}

// ReactorInfo and Collateral are sub-structures of the OrderKey the
// reactor emits on initiation.
type ReactorInfo struct {
	Reactor           ethcommon.Address
	FillDeadline      *big.Int
	ChallengeDeadline *big.Int
	ProofDeadline     *big.Int
}

type Collateral struct {
	CollateralToken            ethcommon.Address
	FillerCollateralAmount     *big.Int
	ChallengerCollateralAmount *big.Int
}

// OrderKey is the contract-confirmed identity of an initiated order,
// decoded from the OrderInitiated event. All fill, validate and claim
// calls key off it.
type OrderKey struct {
	ReactorContext ReactorInfo
	Swapper        ethcommon.Address
	Nonce          *big.Int
	Collateral     Collateral
	OriginChainId  *big.Int
	LocalOracle    ethcommon.Address
	Inputs         []Input
	Outputs        []OutputDescription
}
