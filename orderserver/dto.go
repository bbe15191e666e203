package orderserver

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/order"
)

// Envelope is the framing of every order-server message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Wire DTOs. Numeric fields travel as strings because the server emits
// uint256 values JSON cannot hold.

type OutputDTO struct {
	Oracle    string `json:"oracle"`
	Settler   string `json:"settler"`
	ChainId   string `json:"chainId"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	Call      string `json:"call"`
	Context   string `json:"context"`
}

type StandardOrderDTO struct {
	User          string      `json:"user"`
	Nonce         string      `json:"nonce"`
	OriginChainId string      `json:"originChainId"`
	Expires       uint32      `json:"expires"`
	FillDeadline  uint32      `json:"fillDeadline"`
	LocalOracle   string      `json:"localOracle"`
	Inputs        [][2]string `json:"inputs"`
	Outputs       []OutputDTO `json:"outputs"`
}

// VmOrderDTO is the payload of a vm-order event: the order plus the
// signatures needed for the claim.
type VmOrderDTO struct {
	Order              StandardOrderDTO `json:"order"`
	SponsorSignature   string           `json:"sponsorSignature"`
	AllocatorSignature string           `json:"allocatorSignature"`
}

type QuoteRequestDTO struct {
	QuoteRequestId string `json:"quoteRequestId"`
	FromAsset      string `json:"fromAsset"`
	ToAsset        string `json:"toAsset"`
	Amount         string `json:"amount"`
}

type QuoteDTO struct {
	QuoteRequestId string  `json:"quoteRequestId"`
	FromAsset      string  `json:"fromAsset"`
	ToAsset        string  `json:"toAsset"`
	Amount         float64 `json:"amount"`
	ExpirationTime int64   `json:"expirationTime"`
}

// SignedOrderDTO is the solver-order-signed payload for a non-VM order.
type SignedOrderDTO struct {
	Order          StandardOrderDTO `json:"order"`
	OrderId        string           `json:"orderId"`
	Signature      string           `json:"signature"`
	DepositAddress string           `json:"depositAddress"`
}

// InitiatedDTO is the solver-order-initiated acknowledgment.
type InitiatedDTO struct {
	OrderId string `json:"orderId"`
}

type IdentifyDTO struct {
	ClientType      string   `json:"clientType"`
	Version         string   `json:"version"`
	SupportedChains []uint64 `json:"supportedChains"`
	Timestamp       int64    `json:"timestamp"`
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("malformed integer %q", s)
	}
	return v, nil
}

// parseBytes32 accepts either a full 32-byte value or a 20-byte
// address, which gets left-padded the way the contracts do.
func parseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b := common.HexStrToByteSlice(s)
	switch len(b) {
	case 32:
		copy(out[:], b)
	case 20:
		copy(out[12:], b)
	case 0:
	default:
		return out, fmt.Errorf("value %q is neither bytes32 nor address", s)
	}
	return out, nil
}

// ToOrder converts the wire form into the internal model.
func (d *StandardOrderDTO) ToOrder() (*order.StandardOrder, error) {
	nonce, err := parseBig(d.Nonce)
	if err != nil {
		return nil, err
	}
	originChainId, err := parseBig(d.OriginChainId)
	if err != nil {
		return nil, err
	}

	inputs := make([][2]*big.Int, 0, len(d.Inputs))
	for _, pair := range d.Inputs {
		token, err := parseBig(pair[0])
		if err != nil {
			return nil, err
		}
		amount, err := parseBig(pair[1])
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, [2]*big.Int{token, amount})
	}

	outputs := make([]order.MandateOutput, 0, len(d.Outputs))
	for i := range d.Outputs {
		out, err := d.Outputs[i].toOutput()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}

	return &order.StandardOrder{
		User:          ethcommon.HexToAddress(d.User),
		Nonce:         nonce,
		OriginChainId: originChainId,
		Expires:       d.Expires,
		FillDeadline:  d.FillDeadline,
		LocalOracle:   ethcommon.HexToAddress(d.LocalOracle),
		Inputs:        inputs,
		Outputs:       outputs,
	}, nil
}

func (d *OutputDTO) toOutput() (order.MandateOutput, error) {
	oracle, err := parseBytes32(d.Oracle)
	if err != nil {
		return order.MandateOutput{}, err
	}
	settler, err := parseBytes32(d.Settler)
	if err != nil {
		return order.MandateOutput{}, err
	}
	recipient, err := parseBytes32(d.Recipient)
	if err != nil {
		return order.MandateOutput{}, err
	}
	token, err := parseBytes32(d.Token)
	if err != nil {
		return order.MandateOutput{}, err
	}
	chainId, err := parseBig(d.ChainId)
	if err != nil {
		return order.MandateOutput{}, err
	}
	amount, err := parseBig(d.Amount)
	if err != nil {
		return order.MandateOutput{}, err
	}

	return order.MandateOutput{
		Oracle:    oracle,
		Settler:   settler,
		ChainId:   chainId,
		Token:     token[:],
		Amount:    amount,
		Recipient: recipient,
		Call:      common.HexStrToByteSlice(d.Call),
		Context:   common.HexStrToByteSlice(d.Context),
	}, nil
}

// FromOrder converts the internal model back to the wire form, used
// when emitting a counter-signed order.
func FromOrder(o *order.StandardOrder) StandardOrderDTO {
	inputs := make([][2]string, 0, len(o.Inputs))
	for _, pair := range o.Inputs {
		inputs = append(inputs, [2]string{pair[0].String(), pair[1].String()})
	}

	outputs := make([]OutputDTO, 0, len(o.Outputs))
	for i := range o.Outputs {
		out := &o.Outputs[i]
		outputs = append(outputs, OutputDTO{
			Oracle:    common.Prepend0xPrefix(common.ByteSliceToPureHexStr(out.Oracle[:])),
			Settler:   common.Prepend0xPrefix(common.ByteSliceToPureHexStr(out.Settler[:])),
			ChainId:   out.ChainId.String(),
			Token:     common.Prepend0xPrefix(common.ByteSliceToPureHexStr(out.Token)),
			Amount:    out.Amount.String(),
			Recipient: common.Prepend0xPrefix(common.ByteSliceToPureHexStr(out.Recipient[:])),
			Call:      common.Prepend0xPrefix(common.ByteSliceToPureHexStr(out.Call)),
			Context:   common.Prepend0xPrefix(common.ByteSliceToPureHexStr(out.Context)),
		})
	}

	return StandardOrderDTO{
		User:          o.User.Hex(),
		Nonce:         o.Nonce.String(),
		OriginChainId: o.OriginChainId.String(),
		Expires:       o.Expires,
		FillDeadline:  o.FillDeadline,
		LocalOracle:   o.LocalOracle.Hex(),
		Inputs:        inputs,
		Outputs:       outputs,
	}
}
