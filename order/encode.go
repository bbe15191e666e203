package order

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	legacyInputComponents = []abi.ArgumentMarshaling{
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
	}

	legacyOutputComponents = []abi.ArgumentMarshaling{
		{Name: "remoteOracle", Type: "bytes32"},
		{Name: "token", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "recipient", Type: "bytes32"},
		{Name: "chainId", Type: "uint32"},
		{Name: "remoteCall", Type: "bytes"},
	}

	limitOrderType = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "proofDeadline", Type: "uint32"},
		{Name: "challengeDeadline", Type: "uint32"},
		{Name: "collateralToken", Type: "address"},
		{Name: "fillerCollateralAmount", Type: "uint256"},
		{Name: "challengerCollateralAmount", Type: "uint256"},
		{Name: "localOracle", Type: "address"},
		{Name: "inputs", Type: "tuple[]", Components: legacyInputComponents},
		{Name: "outputs", Type: "tuple[]", Components: legacyOutputComponents},
	})

	dutchAuctionType = mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "verificationContext", Type: "bytes32"},
		{Name: "verificationContract", Type: "address"},
		{Name: "proofDeadline", Type: "uint32"},
		{Name: "challengeDeadline", Type: "uint32"},
		{Name: "collateralToken", Type: "address"},
		{Name: "fillerCollateralAmount", Type: "uint256"},
		{Name: "challengerCollateralAmount", Type: "uint256"},
		{Name: "localOracle", Type: "address"},
		{Name: "slopeStartingTime", Type: "uint32"},
		{Name: "inputSlopes", Type: "int256[]"},
		{Name: "outputSlopes", Type: "int256[]"},
		{Name: "inputs", Type: "tuple[]", Components: legacyInputComponents},
		{Name: "outputs", Type: "tuple[]", Components: legacyOutputComponents},
	})

	mandateOutputsType = mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "oracle", Type: "bytes32"},
		{Name: "settler", Type: "bytes32"},
		{Name: "chainId", Type: "uint256"},
		{Name: "token", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "recipient", Type: "bytes32"},
		{Name: "call", Type: "bytes"},
		{Name: "context", Type: "bytes"},
	})

	limitOrderArgs    = abi.Arguments{{Type: limitOrderType}}
	dutchAuctionArgs  = abi.Arguments{{Type: dutchAuctionType}}
	mandateOutputArgs = abi.Arguments{{Type: mandateOutputsType}}
)

type abiLimitOrder struct {
	ProofDeadline              uint32
	ChallengeDeadline          uint32
	CollateralToken            ethcommon.Address
	FillerCollateralAmount     *big.Int
	ChallengerCollateralAmount *big.Int
	LocalOracle                ethcommon.Address
	Inputs                     []Input
	Outputs                    []OutputDescription
}

type abiDutchAuction struct {
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

type abiMandateOutput struct {
	Oracle    [32]byte
	Settler   [32]byte
	ChainId   *big.Int
	Token     [32]byte
	Amount    *big.Int
	Recipient [32]byte
	Call      []byte
	Context   []byte
}

// EncodeOrderData ABI-encodes the tagged union for delivery to the
// reactor's initiate call.
func EncodeOrderData(data OrderData) ([]byte, error) {
	switch d := data.(type) {
	case *LimitOrderData:
		return limitOrderArgs.Pack(abiLimitOrder{
			ProofDeadline:              d.ProofDeadline,
			ChallengeDeadline:          d.ChallengeDeadline,
			CollateralToken:            d.CollateralToken,
			FillerCollateralAmount:     d.FillerCollateralAmount,
			ChallengerCollateralAmount: d.ChallengerCollateralAmount,
			LocalOracle:                d.LocalOracle,
			Inputs:                     d.Inputs,
			Outputs:                    d.Outputs,
		})
	case *DutchAuctionOrderData:
		return dutchAuctionArgs.Pack(abiDutchAuction{
			VerificationContext:        d.VerificationContext,
			VerificationContract:       d.VerificationContract,
			ProofDeadline:              d.ProofDeadline,
			ChallengeDeadline:          d.ChallengeDeadline,
			CollateralToken:            d.CollateralToken,
			FillerCollateralAmount:     d.FillerCollateralAmount,
			ChallengerCollateralAmount: d.ChallengerCollateralAmount,
			LocalOracle:                d.LocalOracle,
			SlopeStartingTime:          d.SlopeStartingTime,
			InputSlopes:                d.InputSlopes,
			OutputSlopes:               d.OutputSlopes,
			Inputs:                     d.Inputs,
			Outputs:                    d.Outputs,
		})
	default:
		return nil, fmt.Errorf("order data type %T not implemented", data)
	}
}

// EncodeMandateOutputs ABI-encodes the outputs array as embedded in
// the order identifier hash.
func EncodeMandateOutputs(outputs []MandateOutput) ([]byte, error) {
	encoded := make([]abiMandateOutput, 0, len(outputs))
	for i := range outputs {
		o := &outputs[i]
		if len(o.Token) != 32 {
			return nil, common.ErrUnexpectedTokenLength
		}
		var token [32]byte
		copy(token[:], o.Token)
		encoded = append(encoded, abiMandateOutput{
			Oracle:    o.Oracle,
			Settler:   o.Settler,
			ChainId:   o.ChainId,
			Token:     token,
			Amount:    o.Amount,
			Recipient: o.Recipient,
			Call:      o.Call,
			Context:   o.Context,
		})
	}
	return mandateOutputArgs.Pack(encoded)
}

// Identifier computes the canonical order id: the keccak hash of the
// tightly packed order fields, with the outputs array ABI-encoded.
func Identifier(settler ethcommon.Address, o *StandardOrder) ([32]byte, error) {
	encodedOutputs, err := EncodeMandateOutputs(o.Outputs)
	if err != nil {
		return [32]byte{}, err
	}

	var buf bytes.Buffer
	writeBig32 := func(v *big.Int) {
		b := common.BigInt2Bytes32(v)
		buf.Write(b[:])
	}
	writeUint32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}

	writeBig32(o.OriginChainId)
	buf.Write(settler.Bytes())
	buf.Write(o.User.Bytes())
	writeBig32(o.Nonce)
	writeUint32(o.Expires)
	writeUint32(o.FillDeadline)
	buf.Write(o.LocalOracle.Bytes())
	for _, input := range o.Inputs {
		writeBig32(input[0])
		writeBig32(input[1])
	}
	buf.Write(encodedOutputs)

	return crypto.Keccak256Hash(buf.Bytes()), nil
}

// FillDescription packs the proof payload the oracle attests to for a
// single filled output.
func FillDescription(solver [32]byte, orderId [32]byte, timestamp uint32, output *MandateOutput) ([]byte, error) {
	if len(output.Token) != 32 {
		return nil, common.ErrUnexpectedTokenLength
	}

	var buf bytes.Buffer
	buf.Write(solver[:])
	buf.Write(orderId[:])

	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], timestamp)
	buf.Write(ts[:])

	buf.Write(output.Token)
	amount := common.BigInt2Bytes32(output.Amount)
	buf.Write(amount[:])
	buf.Write(output.Recipient[:])

	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(output.Call)))
	buf.Write(length[:])
	buf.Write(output.Call)
	binary.BigEndian.PutUint16(length[:], uint16(len(output.Context)))
	buf.Write(length[:])
	buf.Write(output.Context)

	return buf.Bytes(), nil
}
