package evaluator

import (
	"context"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/order"
)

var (
	originChain = uint64(84532)
	destChain   = uint64(11155111)

	btcOracle   = ethcommon.HexToAddress("0x4A698444A0982d8C954C94eC18C00c8c1Ce10939")
	evmOracle   = ethcommon.HexToAddress("0x3cA2BC13f63759D627449C5FfB0713125c24b019")
	collateral  = ethcommon.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	outputToken = ethcommon.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	reactor     = ethcommon.HexToAddress("0x00000000005891cf71bCA36d0A5D1b21b1F24e95")
)

type fakeChain struct {
	address   ethcommon.Address
	balances  map[ethcommon.Address]*big.Int
	allowance *big.Int
}

func (f *fakeChain) Address() ethcommon.Address { return f.address }

func (f *fakeChain) ERC20BalanceOf(_ context.Context, token, _ ethcommon.Address) (*big.Int, error) {
	if b, ok := f.balances[token]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) ERC20Allowance(_ context.Context, _, _, _ ethcommon.Address) (*big.Int, error) {
	if f.allowance == nil {
		return big.NewInt(0), nil
	}
	return f.allowance, nil
}

func testEvaluator(chain *fakeChain) *Evaluator {
	cfg := &Config{
		ApprovedOracles: map[uint64]map[ethcommon.Address]OracleType{
			originChain: {
				btcOracle: OracleTypeBitcoin,
				evmOracle: OracleTypeEVM,
			},
			destChain: {
				btcOracle: OracleTypeBitcoin,
				evmOracle: OracleTypeEVM,
			},
		},
		CollateralTokens: map[uint64]map[ethcommon.Address]bool{
			originChain: {collateral: true},
		},
		LimitOrderReactor:   reactor,
		DutchAuctionReactor: reactor,
	}
	return New(cfg, map[uint64]BalanceReader{
		originChain: chain,
		destChain:   chain,
	})
}

func bitcoinStandardOrder(confirmations int, version common.BtcAddressVersion) *order.StandardOrder {
	return &order.StandardOrder{
		User:          ethcommon.HexToAddress("0x7A46bf9735B1a3EeF2b80a9FA3B4B9CC56d49A32"),
		Nonce:         big.NewInt(1),
		OriginChainId: new(big.Int).SetUint64(originChain),
		LocalOracle:   btcOracle,
		Outputs: []order.MandateOutput{
			{
				Oracle:  common.AddressToBytes32(btcOracle),
				ChainId: new(big.Int).SetUint64(destChain),
				Token:   common.MakeBitcoinToken(confirmations, version),
				Amount:  big.NewInt(50_000),
			},
		},
	}
}

func evmStandardOrder(amount int64) *order.StandardOrder {
	token := common.AddressToBytes32(outputToken)
	return &order.StandardOrder{
		User:          ethcommon.HexToAddress("0x7A46bf9735B1a3EeF2b80a9FA3B4B9CC56d49A32"),
		Nonce:         big.NewInt(1),
		OriginChainId: new(big.Int).SetUint64(originChain),
		LocalOracle:   evmOracle,
		Outputs: []order.MandateOutput{
			{
				Oracle:  common.AddressToBytes32(evmOracle),
				ChainId: new(big.Int).SetUint64(destChain),
				Token:   token[:],
				Amount:  big.NewInt(amount),
			},
		},
	}
}

func TestAcceptsBitcoinOrder(t *testing.T) {
	e := testEvaluator(&fakeChain{})

	result, err := e.EvaluateStandard(context.Background(), bitcoinStandardOrder(2, common.BtcAddressP2WPKH))
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, PathBitcoin, result.Path)
}

func TestRejectsUnknownLocalOracle(t *testing.T) {
	e := testEvaluator(&fakeChain{})

	o := bitcoinStandardOrder(2, common.BtcAddressP2WPKH)
	o.LocalOracle = ethcommon.HexToAddress("0x2222222222222222222222222222222222222222")

	result, err := e.EvaluateStandard(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func TestRejectsMixedClassification(t *testing.T) {
	e := testEvaluator(&fakeChain{})

	// Bitcoin local oracle but an EVM remote oracle.
	o := bitcoinStandardOrder(2, common.BtcAddressP2WPKH)
	o.Outputs[0].Oracle = common.AddressToBytes32(evmOracle)

	result, err := e.EvaluateStandard(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func TestRejectsTooManyConfirmations(t *testing.T) {
	e := testEvaluator(&fakeChain{})

	result, err := e.EvaluateStandard(context.Background(), bitcoinStandardOrder(4, common.BtcAddressP2WPKH))
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func TestRejectsBadAddressVersion(t *testing.T) {
	e := testEvaluator(&fakeChain{})

	result, err := e.EvaluateStandard(context.Background(), bitcoinStandardOrder(1, common.BtcAddressUnknown))
	require.NoError(t, err)
	assert.False(t, result.Accepted)

	result, err = e.EvaluateStandard(context.Background(), bitcoinStandardOrder(1, common.BtcAddressVersion(6)))
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func TestRejectsBitcoinOutputWithCall(t *testing.T) {
	e := testEvaluator(&fakeChain{})

	o := bitcoinStandardOrder(1, common.BtcAddressP2WPKH)
	o.Outputs[0].Call = []byte{0x01}

	result, err := e.EvaluateStandard(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func TestRejectsMultipleBitcoinOutputs(t *testing.T) {
	e := testEvaluator(&fakeChain{})

	o := bitcoinStandardOrder(1, common.BtcAddressP2WPKH)
	o.Outputs = append(o.Outputs, o.Outputs[0])

	result, err := e.EvaluateStandard(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func TestBadTokenLengthIsHardError(t *testing.T) {
	e := testEvaluator(&fakeChain{})

	o := bitcoinStandardOrder(1, common.BtcAddressP2WPKH)
	o.Outputs[0].Token = []byte{0xbc, 0x00}

	_, err := e.EvaluateStandard(context.Background(), o)
	assert.ErrorIs(t, err, common.ErrUnexpectedTokenLength)
}

func TestEVMOrderBalanceCheck(t *testing.T) {
	chain := &fakeChain{balances: map[ethcommon.Address]*big.Int{
		outputToken: big.NewInt(100_000),
	}}
	e := testEvaluator(chain)

	result, err := e.EvaluateStandard(context.Background(), evmStandardOrder(50_000))
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, PathEVM, result.Path)

	result, err = e.EvaluateStandard(context.Background(), evmStandardOrder(200_000))
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func legacyOrder(collateralAmount int64) *order.CrossChainOrder {
	return &order.CrossChainOrder{
		SettlementContract: reactor,
		Swapper:            ethcommon.HexToAddress("0x7A46bf9735B1a3EeF2b80a9FA3B4B9CC56d49A32"),
		Nonce:              big.NewInt(9),
		OriginChainId:      uint32(originChain),
		OrderData: &order.LimitOrderData{
			CollateralToken:            collateral,
			FillerCollateralAmount:     big.NewInt(collateralAmount),
			ChallengerCollateralAmount: big.NewInt(0),
			LocalOracle:                btcOracle,
			Outputs: []order.OutputDescription{
				{
					RemoteOracle: common.AddressToBytes32(btcOracle),
					Token:        [32]byte(common.MakeBitcoinToken(1, common.BtcAddressP2WPKH)),
					Amount:       big.NewInt(10_000),
					ChainId:      uint32(destChain),
				},
			},
		},
	}
}

func TestEvaluateLegacyOrder(t *testing.T) {
	e := testEvaluator(&fakeChain{})

	result, err := e.Evaluate(context.Background(), legacyOrder(0))
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, PathBitcoin, result.Path)

	// wrong reactor
	o := legacyOrder(0)
	o.SettlementContract = ethcommon.HexToAddress("0x3333333333333333333333333333333333333333")
	result, err = e.Evaluate(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func TestEvaluateCollateral(t *testing.T) {
	chain := &fakeChain{
		balances:  map[ethcommon.Address]*big.Int{collateral: big.NewInt(100)},
		allowance: big.NewInt(0),
	}
	e := testEvaluator(chain)

	// zero collateral always passes
	result, err := e.EvaluateCollateral(context.Background(), legacyOrder(0))
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.False(t, result.NeedApproval)

	// supported token, balance covers it, no allowance yet
	result, err = e.EvaluateCollateral(context.Background(), legacyOrder(50))
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.True(t, result.NeedApproval)

	// balance short
	result, err = e.EvaluateCollateral(context.Background(), legacyOrder(500))
	require.NoError(t, err)
	assert.False(t, result.Accepted)

	// unsupported token
	o := legacyOrder(50)
	o.OrderData.(*order.LimitOrderData).CollateralToken = outputToken
	result, err = e.EvaluateCollateral(context.Background(), o)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}
