package order

import (
	"encoding/binary"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
)

func testStandardOrder() *StandardOrder {
	token := common.MakeBitcoinToken(2, common.BtcAddressP2WPKH)
	return &StandardOrder{
		User:          ethcommon.HexToAddress("0x7A46bf9735B1a3EeF2b80a9FA3B4B9CC56d49A32"),
		Nonce:         big.NewInt(7),
		OriginChainId: big.NewInt(84532),
		Expires:       1700003600,
		FillDeadline:  1700000600,
		LocalOracle:   ethcommon.HexToAddress("0x4A698444A0982d8C954C94eC18C00c8c1Ce10939"),
		Inputs: [][2]*big.Int{
			{big.NewInt(11), big.NewInt(1_000_000)},
		},
		Outputs: []MandateOutput{
			{
				Oracle:    common.AddressToBytes32(ethcommon.HexToAddress("0x3cA2BC13f63759D627449C5FfB0713125c24b019")),
				Settler:   common.AddressToBytes32(ethcommon.HexToAddress("0x000000Ee3Edef26AB5B58922406A2C409661fe23")),
				ChainId:   big.NewInt(20),
				Token:     token,
				Amount:    big.NewInt(250_000),
				Recipient: [32]byte{1, 2, 3},
			},
		},
	}
}

func TestIdentifierDeterministicAndNonceSensitive(t *testing.T) {
	settler := ethcommon.HexToAddress("0x00000000005891cf71bCA36d0A5D1b21b1F24e95")

	first, err := Identifier(settler, testStandardOrder())
	require.NoError(t, err)

	second, err := Identifier(settler, testStandardOrder())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	bumped := testStandardOrder()
	bumped.Nonce = big.NewInt(8)
	third, err := Identifier(settler, bumped)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestIdentifierRejectsBadToken(t *testing.T) {
	o := testStandardOrder()
	o.Outputs[0].Token = []byte{0xbc}

	_, err := Identifier(ethcommon.Address{}, o)
	assert.ErrorIs(t, err, common.ErrUnexpectedTokenLength)
}

func TestEncodeOrderDataLimitOrder(t *testing.T) {
	data := &LimitOrderData{
		ProofDeadline:              1700007200,
		ChallengeDeadline:          1700005400,
		CollateralToken:            ethcommon.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		FillerCollateralAmount:     big.NewInt(10),
		ChallengerCollateralAmount: big.NewInt(20),
		LocalOracle:                ethcommon.HexToAddress("0x4A698444A0982d8C954C94eC18C00c8c1Ce10939"),
		Inputs: []Input{
			{Token: ethcommon.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"), Amount: big.NewInt(500)},
		},
		Outputs: []OutputDescription{
			{
				RemoteOracle: [32]byte{1},
				Token:        [32]byte{2},
				Amount:       big.NewInt(500),
				Recipient:    [32]byte{3},
				ChainId:      84532,
				RemoteCall:   nil,
			},
		},
	}

	encoded, err := EncodeOrderData(data)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	again, err := EncodeOrderData(data)
	require.NoError(t, err)
	assert.Equal(t, encoded, again)
}

func TestEncodeOrderDataDutchAuction(t *testing.T) {
	data := &DutchAuctionOrderData{
		VerificationContract:       ethcommon.HexToAddress("0x7A46bf9735B1a3EeF2b80a9FA3B4B9CC56d49A32"),
		ProofDeadline:              1700007200,
		ChallengeDeadline:          1700005400,
		CollateralToken:            ethcommon.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		FillerCollateralAmount:     big.NewInt(0),
		ChallengerCollateralAmount: big.NewInt(0),
		LocalOracle:                ethcommon.HexToAddress("0x4A698444A0982d8C954C94eC18C00c8c1Ce10939"),
		SlopeStartingTime:          1700000000,
		InputSlopes:                []*big.Int{big.NewInt(-1)},
		OutputSlopes:               []*big.Int{big.NewInt(2)},
		Inputs:                     []Input{},
		Outputs:                    []OutputDescription{},
	}

	encoded, err := EncodeOrderData(data)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)
}

type bogusOrderData struct{}

func (bogusOrderData) isOrderData() {}

func TestEncodeOrderDataUnknownType(t *testing.T) {
	_, err := EncodeOrderData(bogusOrderData{})
	assert.Error(t, err)
}

func TestFillDescriptionLayout(t *testing.T) {
	o := testStandardOrder()
	output := &o.Outputs[0]
	output.Call = []byte{0xaa, 0xbb}
	output.Context = []byte{0xcc}

	var solver, orderId [32]byte
	solver[31] = 0x11
	orderId[31] = 0x22

	desc, err := FillDescription(solver, orderId, 1700000042, output)
	require.NoError(t, err)

	// solver ++ orderId ++ ts ++ token ++ amount ++ recipient ++
	// len(call) ++ call ++ len(context) ++ context
	require.Len(t, desc, 32+32+4+32+32+32+2+2+2+1)
	assert.Equal(t, solver[:], desc[:32])
	assert.Equal(t, orderId[:], desc[32:64])
	assert.Equal(t, uint32(1700000042), binary.BigEndian.Uint32(desc[64:68]))
	assert.Equal(t, output.Token, desc[68:100])
	assert.Equal(t, output.Recipient[:], desc[132:164])
	assert.Equal(t, []byte{0x00, 0x02}, desc[164:166])
	assert.Equal(t, output.Call, desc[166:168])
	assert.Equal(t, []byte{0x00, 0x01}, desc[168:170])
	assert.Equal(t, output.Context, desc[170:])
}

func TestFillerData(t *testing.T) {
	payTo := ethcommon.HexToAddress("0x7A46bf9735B1a3EeF2b80a9FA3B4B9CC56d49A32")

	plain := FillerData(payTo, 1700000300, 0.5, nil)
	require.Len(t, plain, 1+20+4+2)
	assert.Equal(t, byte(0x01), plain[0])
	assert.Equal(t, payTo.Bytes(), plain[1:21])
	assert.Equal(t, []byte{0x7f, 0xff}, plain[25:27])

	execData := []byte{0xde, 0xad}
	withExec := FillerData(payTo, 1700000300, 0, execData)
	require.Len(t, withExec, 1+20+4+2+32)
	assert.Equal(t, byte(0x02), withExec[0])
	assert.Equal(t, []byte{0x00, 0x00}, withExec[25:27])
	assert.Equal(t, crypto.Keccak256(execData), withExec[27:])
}
