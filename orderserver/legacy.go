package orderserver

import (
	"encoding/json"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/order"
)

// Legacy `order` event payload, kept for the previous order-server
// generation. The order data is a tagged union keyed by orderType.

type LegacyOrderDTO struct {
	Order     LegacyCrossChainOrderDTO `json:"order"`
	Signature string                   `json:"signature"`
}

type LegacyCrossChainOrderDTO struct {
	SettlementContract string          `json:"settlementContract"`
	Swapper            string          `json:"swapper"`
	Nonce              string          `json:"nonce"`
	OriginChainId      uint32          `json:"originChainId"`
	InitiateDeadline   uint32          `json:"initiateDeadline"`
	FillDeadline       uint32          `json:"fillDeadline"`
	OrderType          string          `json:"orderType"`
	OrderData          json.RawMessage `json:"orderData"`
}

type LegacyInputDTO struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type LegacyOutputDTO struct {
	RemoteOracle string `json:"remoteOracle"`
	Token        string `json:"token"`
	Amount       string `json:"amount"`
	Recipient    string `json:"recipient"`
	ChainId      uint32 `json:"chainId"`
	RemoteCall   string `json:"remoteCall"`
}

type LimitOrderDataDTO struct {
	ProofDeadline              uint32            `json:"proofDeadline"`
	ChallengeDeadline          uint32            `json:"challengeDeadline"`
	CollateralToken            string            `json:"collateralToken"`
	FillerCollateralAmount     string            `json:"fillerCollateralAmount"`
	ChallengerCollateralAmount string            `json:"challengerCollateralAmount"`
	LocalOracle                string            `json:"localOracle"`
	Inputs                     []LegacyInputDTO  `json:"inputs"`
	Outputs                    []LegacyOutputDTO `json:"outputs"`
}

type DutchAuctionDataDTO struct {
	VerificationContext        string            `json:"verificationContext"`
	VerificationContract       string            `json:"verificationContract"`
	ProofDeadline              uint32            `json:"proofDeadline"`
	ChallengeDeadline          uint32            `json:"challengeDeadline"`
	CollateralToken            string            `json:"collateralToken"`
	FillerCollateralAmount     string            `json:"fillerCollateralAmount"`
	ChallengerCollateralAmount string            `json:"challengerCollateralAmount"`
	LocalOracle                string            `json:"localOracle"`
	SlopeStartingTime          uint32            `json:"slopeStartingTime"`
	InputSlopes                []string          `json:"inputSlopes"`
	OutputSlopes               []string          `json:"outputSlopes"`
	Inputs                     []LegacyInputDTO  `json:"inputs"`
	Outputs                    []LegacyOutputDTO `json:"outputs"`
}

func (d *LegacyCrossChainOrderDTO) ToOrder() (*order.CrossChainOrder, error) {
	nonce, err := parseBig(d.Nonce)
	if err != nil {
		return nil, err
	}

	var orderData order.OrderData
	switch d.OrderType {
	case "LimitOrder":
		orderData, err = decodeLimitOrderData(d.OrderData)
	case "DutchAuction":
		orderData, err = decodeDutchAuctionData(d.OrderData)
	default:
		return nil, fmt.Errorf("unknown order type %q", d.OrderType)
	}
	if err != nil {
		return nil, err
	}

	return &order.CrossChainOrder{
		SettlementContract: ethcommon.HexToAddress(d.SettlementContract),
		Swapper:            ethcommon.HexToAddress(d.Swapper),
		Nonce:              nonce,
		OriginChainId:      d.OriginChainId,
		InitiateDeadline:   d.InitiateDeadline,
		FillDeadline:       d.FillDeadline,
		OrderData:          orderData,
	}, nil
}

func decodeLimitOrderData(raw json.RawMessage) (*order.LimitOrderData, error) {
	var dto LimitOrderDataDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, err
	}

	fillerCollateral, err := parseBig(dto.FillerCollateralAmount)
	if err != nil {
		return nil, err
	}
	challengerCollateral, err := parseBig(dto.ChallengerCollateralAmount)
	if err != nil {
		return nil, err
	}
	inputs, err := toLegacyInputs(dto.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := toLegacyOutputs(dto.Outputs)
	if err != nil {
		return nil, err
	}

	return &order.LimitOrderData{
		ProofDeadline:              dto.ProofDeadline,
		ChallengeDeadline:          dto.ChallengeDeadline,
		CollateralToken:            ethcommon.HexToAddress(dto.CollateralToken),
		FillerCollateralAmount:     fillerCollateral,
		ChallengerCollateralAmount: challengerCollateral,
		LocalOracle:                ethcommon.HexToAddress(dto.LocalOracle),
		Inputs:                     inputs,
		Outputs:                    outputs,
	}, nil
}

func decodeDutchAuctionData(raw json.RawMessage) (*order.DutchAuctionOrderData, error) {
	var dto DutchAuctionDataDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, err
	}

	fillerCollateral, err := parseBig(dto.FillerCollateralAmount)
	if err != nil {
		return nil, err
	}
	challengerCollateral, err := parseBig(dto.ChallengerCollateralAmount)
	if err != nil {
		return nil, err
	}
	inputSlopes, err := parseBigSlice(dto.InputSlopes)
	if err != nil {
		return nil, err
	}
	outputSlopes, err := parseBigSlice(dto.OutputSlopes)
	if err != nil {
		return nil, err
	}
	inputs, err := toLegacyInputs(dto.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := toLegacyOutputs(dto.Outputs)
	if err != nil {
		return nil, err
	}

	return &order.DutchAuctionOrderData{
		VerificationContext:        common.HexStrToBytes32(dto.VerificationContext),
		VerificationContract:       ethcommon.HexToAddress(dto.VerificationContract),
		ProofDeadline:              dto.ProofDeadline,
		ChallengeDeadline:          dto.ChallengeDeadline,
		CollateralToken:            ethcommon.HexToAddress(dto.CollateralToken),
		FillerCollateralAmount:     fillerCollateral,
		ChallengerCollateralAmount: challengerCollateral,
		LocalOracle:                ethcommon.HexToAddress(dto.LocalOracle),
		SlopeStartingTime:          dto.SlopeStartingTime,
		InputSlopes:                inputSlopes,
		OutputSlopes:               outputSlopes,
		Inputs:                     inputs,
		Outputs:                    outputs,
	}, nil
}

func parseBigSlice(values []string) ([]*big.Int, error) {
	out := make([]*big.Int, 0, len(values))
	for _, v := range values {
		parsed, err := parseBig(v)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

func toLegacyInputs(dtos []LegacyInputDTO) ([]order.Input, error) {
	inputs := make([]order.Input, 0, len(dtos))
	for _, dto := range dtos {
		amount, err := parseBig(dto.Amount)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, order.Input{
			Token:  ethcommon.HexToAddress(dto.Token),
			Amount: amount,
		})
	}
	return inputs, nil
}

func toLegacyOutputs(dtos []LegacyOutputDTO) ([]order.OutputDescription, error) {
	outputs := make([]order.OutputDescription, 0, len(dtos))
	for _, dto := range dtos {
		remoteOracle, err := parseBytes32(dto.RemoteOracle)
		if err != nil {
			return nil, err
		}
		token, err := parseBytes32(dto.Token)
		if err != nil {
			return nil, err
		}
		recipient, err := parseBytes32(dto.Recipient)
		if err != nil {
			return nil, err
		}
		amount, err := parseBig(dto.Amount)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, order.OutputDescription{
			RemoteOracle: remoteOracle,
			Token:        token,
			Amount:       amount,
			Recipient:    recipient,
			ChainId:      dto.ChainId,
			RemoteCall:   common.HexStrToByteSlice(dto.RemoteCall),
		})
	}
	return outputs, nil
}
