package pipeline

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/etherman"
	"github.com/Futaba-Labs/catalyst-example-solver/evaluator"
	"github.com/Futaba-Labs/catalyst-example-solver/order"
)

var (
	originChain = uint64(84532)
	destChain   = uint64(11155111)

	btcOracle   = ethcommon.HexToAddress("0x4A698444A0982d8C954C94eC18C00c8c1Ce10939")
	evmOracle   = ethcommon.HexToAddress("0x3cA2BC13f63759D627449C5FfB0713125c24b019")
	settlerAddr = ethcommon.HexToAddress("0x00000000005891cf71bCA36d0A5D1b21b1F24e95")
	fillerAddr  = ethcommon.HexToAddress("0x2B1b9EC1b3b2f1B9eC1b3B2F1b9Ec1B3b2F1B9eC")
	outputToken = ethcommon.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	collateral  = ethcommon.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	solverAddr  = ethcommon.HexToAddress("0x9fA3B4B9cc56D49a327a46BF9735b1a3eEf2B80A")
)

type approveCall struct {
	token, spender ethcommon.Address
	amount         *big.Int
}

type submitCall struct {
	oracle, filler ethcommon.Address
	payloads       [][]byte
}

type fakeChain struct {
	chainId *big.Int

	approvals  []approveCall
	fills      int
	legacyFill int
	submitted  []submitCall
	received   [][]byte
	finalised  bool
	finaliseTs []uint32

	initiated bool
	parseKey  *order.OrderKey
	parseErr  error
}

func newFakeChain(chainId uint64) *fakeChain {
	return &fakeChain{chainId: new(big.Int).SetUint64(chainId)}
}

func receiptWithLog() *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      ethcommon.HexToHash("0xfeed"),
		BlockNumber: big.NewInt(100),
		Logs:        []*types.Log{{Index: 3}},
	}
}

func (f *fakeChain) ChainId() *big.Int          { return new(big.Int).Set(f.chainId) }
func (f *fakeChain) Address() ethcommon.Address { return solverAddr }
func (f *fakeChain) SolverIdentifier() [32]byte { return common.AddressToBytes32(solverAddr) }
func (f *fakeChain) SignDigest(digest [32]byte) ([]byte, error) {
	sig := append([]byte{0x5a}, digest[:]...)
	return sig, nil
}

func (f *fakeChain) Initiate(_ context.Context, _ *order.CrossChainOrder, _, _ []byte) (*types.Receipt, error) {
	f.initiated = true
	return receiptWithLog(), nil
}

func (f *fakeChain) ParseOrderInitiated(_ *types.Receipt, _ ethcommon.Address) (*order.OrderKey, [32]byte, error) {
	if f.parseErr != nil {
		return nil, [32]byte{}, f.parseErr
	}
	return f.parseKey, [32]byte{0xaa}, nil
}

func (f *fakeChain) Fill(_ context.Context, filler ethcommon.Address, _ [32]byte, _ *order.MandateOutput, _ [32]byte) (*types.Receipt, error) {
	f.fills++
	return receiptWithLog(), nil
}

func (f *fakeChain) FillLegacy(_ context.Context, _ ethcommon.Address, outputs []order.OutputDescription, fillTimes []uint32) (*types.Receipt, error) {
	f.legacyFill += len(outputs)
	return receiptWithLog(), nil
}

func (f *fakeChain) SubmitFillDescriptions(_ context.Context, oracle, filler ethcommon.Address, payloads [][]byte) (*types.Receipt, error) {
	f.submitted = append(f.submitted, submitCall{oracle, filler, payloads})
	return receiptWithLog(), nil
}

func (f *fakeChain) ReceiveMessage(_ context.Context, _ ethcommon.Address, rawMessage []byte) (*types.Receipt, error) {
	f.received = append(f.received, rawMessage)
	return receiptWithLog(), nil
}

func (f *fakeChain) FinaliseSelf(_ context.Context, _ ethcommon.Address, _ *order.StandardOrder, _ []byte, timestamps []uint32, _ [32]byte) (*types.Receipt, error) {
	f.finalised = true
	f.finaliseTs = timestamps
	return receiptWithLog(), nil
}

func (f *fakeChain) ERC20Approve(_ context.Context, token, spender ethcommon.Address, amount *big.Int) (*types.Receipt, error) {
	f.approvals = append(f.approvals, approveCall{token, spender, amount})
	return receiptWithLog(), nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, _ *big.Int) (uint32, error) {
	return 1700000100, nil
}

// evaluator side
func (f *fakeChain) ERC20BalanceOf(_ context.Context, _, _ ethcommon.Address) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeChain) ERC20Allowance(_ context.Context, _, _, _ ethcommon.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

type madeTx struct {
	recipient string
	amount    int64
	embed     []byte
}

type fakeWallet struct {
	nextAddr  string
	made      []madeTx
	broadcast int
}

func (f *fakeWallet) NextSafeAddress(_ context.Context, _ int64) (string, uint32, error) {
	return f.nextAddr, 7, nil
}

func (f *fakeWallet) MakeTransaction(_ context.Context, recipient string, amount int64, embed []byte) (*wire.MsgTx, error) {
	f.made = append(f.made, madeTx{recipient, amount, embed})
	return wire.NewMsgTx(wire.TxVersion), nil
}

func (f *fakeWallet) BroadcastTransaction(_ context.Context, _ *wire.MsgTx) (string, error) {
	f.broadcast++
	return "cafebabe", nil
}

func testPipeline(t *testing.T, origin, dest *fakeChain, wallet *fakeWallet, proofURL string) *Pipeline {
	t.Helper()

	evalCfg := &evaluator.Config{
		ApprovedOracles: map[uint64]map[ethcommon.Address]evaluator.OracleType{
			originChain: {btcOracle: evaluator.OracleTypeBitcoin, evmOracle: evaluator.OracleTypeEVM},
			destChain:   {btcOracle: evaluator.OracleTypeBitcoin, evmOracle: evaluator.OracleTypeEVM},
		},
		CollateralTokens: map[uint64]map[ethcommon.Address]bool{
			originChain: {collateral: true},
		},
		LimitOrderReactor:   settlerAddr,
		DutchAuctionReactor: settlerAddr,
	}
	eval := evaluator.New(evalCfg, map[uint64]evaluator.BalanceReader{
		originChain: origin,
		destChain:   dest,
	})

	cfg := &Config{
		Settlers:        map[uint64]ethcommon.Address{originChain: settlerAddr},
		ProofOracles:    map[ethcommon.Address]bool{btcOracle: false, evmOracle: false},
		ProofServiceURL: proofURL,
		ChainParams:     &chaincfg.MainNetParams,
	}
	return New(cfg, eval, wallet, map[uint64]ChainClient{
		originChain: origin,
		destChain:   dest,
	})
}

func bitcoinOrder() *order.StandardOrder {
	var recipient [32]byte
	copy(recipient[:], common.RandBytes(20))
	return &order.StandardOrder{
		User:          ethcommon.HexToAddress("0x7A46bf9735B1a3EeF2b80a9FA3B4B9CC56d49A32"),
		Nonce:         big.NewInt(11),
		OriginChainId: new(big.Int).SetUint64(originChain),
		Expires:       1800000000,
		FillDeadline:  1800000000,
		LocalOracle:   btcOracle,
		Outputs: []order.MandateOutput{
			{
				Oracle:    common.AddressToBytes32(btcOracle),
				ChainId:   new(big.Int).SetUint64(destChain),
				Token:     common.MakeBitcoinToken(2, common.BtcAddressP2WPKH),
				Amount:    big.NewInt(75_000),
				Recipient: recipient,
			},
		},
	}
}

func evmOrder() *order.StandardOrder {
	token := common.AddressToBytes32(outputToken)
	return &order.StandardOrder{
		User:          ethcommon.HexToAddress("0x7A46bf9735B1a3EeF2b80a9FA3B4B9CC56d49A32"),
		Nonce:         big.NewInt(12),
		OriginChainId: new(big.Int).SetUint64(originChain),
		LocalOracle:   evmOracle,
		Outputs: []order.MandateOutput{
			{
				Oracle:  common.AddressToBytes32(evmOracle),
				Settler: common.AddressToBytes32(fillerAddr),
				ChainId: new(big.Int).SetUint64(destChain),
				Token:   token[:],
				Amount:  big.NewInt(40_000),
			},
		},
	}
}

func TestExecuteStandardBitcoinPath(t *testing.T) {
	origin := newFakeChain(originChain)
	dest := newFakeChain(destChain)
	wallet := &fakeWallet{}
	p := testPipeline(t, origin, dest, wallet, "")

	o := bitcoinOrder()
	err := p.ExecuteStandard(context.Background(), o, []byte{0x01}, []byte{0x02})
	require.NoError(t, err)

	// the oracle matches on address and amount, so no embed
	require.Len(t, wallet.made, 1)
	assert.Equal(t, int64(75_000), wallet.made[0].amount)
	assert.Empty(t, wallet.made[0].embed)
	assert.Equal(t, 1, wallet.broadcast)

	// the fill description goes to the relay oracle on the output's
	// chain, never to the origin chain directly
	require.Len(t, dest.submitted, 1)
	assert.Empty(t, origin.submitted)
	assert.Equal(t, btcOracle, dest.submitted[0].oracle)
	require.Len(t, dest.submitted[0].payloads, 1)
	assert.Len(t, dest.submitted[0].payloads[0], 168)

	assert.True(t, origin.finalised)
	require.Len(t, origin.finaliseTs, 1)

	orderId, err := order.Identifier(settlerAddr, o)
	require.NoError(t, err)
	rec, ok := p.Order(hex.EncodeToString(orderId[:]))
	require.True(t, ok)
	assert.Equal(t, StatusClaimed, rec.Status)
	assert.Equal(t, "cafebabe", rec.BtcTxId)
}

func TestExecuteStandardEVMPath(t *testing.T) {
	origin := newFakeChain(originChain)
	dest := newFakeChain(destChain)
	p := testPipeline(t, origin, dest, &fakeWallet{}, "")

	o := evmOrder()
	err := p.ExecuteStandard(context.Background(), o, []byte{0x01}, []byte{0x02})
	require.NoError(t, err)

	// approval goes to the destination settler before the fill
	require.Len(t, dest.approvals, 1)
	assert.Equal(t, outputToken, dest.approvals[0].token)
	assert.Equal(t, fillerAddr, dest.approvals[0].spender)
	assert.Equal(t, 1, dest.fills)

	// the fill description is submitted on the destination chain, with
	// the output's settler as the filler
	require.Len(t, dest.submitted, 1)
	assert.Empty(t, origin.submitted)
	assert.Equal(t, evmOracle, dest.submitted[0].oracle)
	assert.Equal(t, fillerAddr, dest.submitted[0].filler)

	// fill timestamp comes from the mined block
	require.Len(t, origin.finaliseTs, 1)
	assert.Equal(t, uint32(1700000100), origin.finaliseTs[0])

	orderId, err := order.Identifier(settlerAddr, o)
	require.NoError(t, err)
	rec, ok := p.Order(hex.EncodeToString(orderId[:]))
	require.True(t, ok)
	assert.Equal(t, StatusClaimed, rec.Status)
}

func TestExecuteStandardProofService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"proof":"0xdeadbeef"}`))
	}))
	defer server.Close()

	origin := newFakeChain(originChain)
	dest := newFakeChain(destChain)
	p := testPipeline(t, origin, dest, &fakeWallet{}, server.URL)
	p.cfg.ProofOracles[evmOracle] = true

	err := p.ExecuteStandard(context.Background(), evmOrder(), []byte{0x01}, []byte{0x02})
	require.NoError(t, err)

	// attestation relayed to the local oracle, no relay submission
	require.Len(t, origin.received, 1)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, origin.received[0])
	assert.Empty(t, origin.submitted)
	assert.Empty(t, dest.submitted)
	assert.True(t, origin.finalised)
}

func TestExecuteStandardRejected(t *testing.T) {
	origin := newFakeChain(originChain)
	dest := newFakeChain(destChain)
	p := testPipeline(t, origin, dest, &fakeWallet{}, "")

	o := bitcoinOrder()
	o.LocalOracle = ethcommon.HexToAddress("0x2222222222222222222222222222222222222222")

	err := p.ExecuteStandard(context.Background(), o, nil, nil)
	assert.ErrorIs(t, err, ErrOrderRejected)

	orderId, idErr := order.Identifier(settlerAddr, o)
	require.NoError(t, idErr)
	rec, ok := p.Order(hex.EncodeToString(orderId[:]))
	require.True(t, ok)
	assert.Equal(t, StatusRejected, rec.Status)
	assert.NotEmpty(t, rec.Reason)
	assert.False(t, origin.finalised)
}

func legacyBitcoinOrder() *order.CrossChainOrder {
	return &order.CrossChainOrder{
		SettlementContract: settlerAddr,
		Swapper:            ethcommon.HexToAddress("0x7A46bf9735B1a3EeF2b80a9FA3B4B9CC56d49A32"),
		Nonce:              big.NewInt(31),
		OriginChainId:      uint32(originChain),
		OrderData: &order.LimitOrderData{
			CollateralToken:        collateral,
			FillerCollateralAmount: big.NewInt(50),
			LocalOracle:            btcOracle,
			Outputs: []order.OutputDescription{
				{
					RemoteOracle: common.AddressToBytes32(btcOracle),
					Token:        [32]byte(common.MakeBitcoinToken(1, common.BtcAddressP2WPKH)),
					Amount:       big.NewInt(20_000),
					ChainId:      uint32(destChain),
				},
			},
		},
	}
}

func TestExecuteLegacyBitcoinPath(t *testing.T) {
	origin := newFakeChain(originChain)
	dest := newFakeChain(destChain)
	wallet := &fakeWallet{}
	p := testPipeline(t, origin, dest, wallet, "")

	o := legacyBitcoinOrder()
	origin.parseKey = &order.OrderKey{
		Swapper:       o.Swapper,
		Nonce:         o.Nonce,
		OriginChainId: new(big.Int).SetUint64(originChain),
		LocalOracle:   btcOracle,
		Outputs:       o.OrderData.(*order.LimitOrderData).Outputs,
	}

	err := p.ExecuteLegacy(context.Background(), o, []byte{0x01})
	require.NoError(t, err)

	assert.True(t, origin.initiated)

	// collateral allowance was zero, so it gets approved first
	require.Len(t, origin.approvals, 1)
	assert.Equal(t, collateral, origin.approvals[0].token)
	assert.Equal(t, settlerAddr, origin.approvals[0].spender)

	require.Len(t, wallet.made, 1)
	assert.Equal(t, int64(20_000), wallet.made[0].amount)

	rec, ok := p.Order(legacyId(o))
	require.True(t, ok)
	assert.Equal(t, StatusFilled, rec.Status)
	assert.Equal(t, "cafebabe", rec.BtcTxId)
}

func TestExecuteLegacyMissingEventIsFatal(t *testing.T) {
	origin := newFakeChain(originChain)
	dest := newFakeChain(destChain)
	p := testPipeline(t, origin, dest, &fakeWallet{}, "")
	origin.parseErr = etherman.ErrMissingInitiatedEvent

	o := legacyBitcoinOrder()
	o.OrderData.(*order.LimitOrderData).FillerCollateralAmount = big.NewInt(0)

	err := p.ExecuteLegacy(context.Background(), o, []byte{0x01})
	assert.ErrorIs(t, err, etherman.ErrMissingInitiatedEvent)

	rec, ok := p.Order(legacyId(o))
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
}

func TestSignOrderRewritesOutput(t *testing.T) {
	hash := common.RandBytes(20)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, &chaincfg.MainNetParams)
	require.NoError(t, err)

	origin := newFakeChain(originChain)
	dest := newFakeChain(destChain)
	wallet := &fakeWallet{nextAddr: addr.EncodeAddress()}
	p := testPipeline(t, origin, dest, wallet, "")

	o := bitcoinOrder()
	o.Nonce = big.NewInt(0)

	signed, err := p.SignOrder(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, addr.EncodeAddress(), signed.DepositAddress)
	assert.Equal(t, solverAddr, signed.Order.User)
	assert.NotZero(t, signed.Order.Nonce.Sign())

	output := signed.Order.Outputs[0]
	assert.Equal(t, hash, output.Recipient[:20])
	assert.Equal(t, common.MakeBitcoinToken(depositConfirmations, common.BtcAddressP2WPKH), output.Token)
	assert.Empty(t, output.Call)

	// the signature commits to the rewritten order
	wantId, err := order.Identifier(settlerAddr, signed.Order)
	require.NoError(t, err)
	assert.Equal(t, wantId, signed.OrderId)
	assert.Equal(t, append([]byte{0x5a}, wantId[:]...), signed.Signature)
}

func TestProofFetchNotReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewProofClient(server.URL)
	_, err := client.fetch(context.Background(), destChain, "0xabc", 0)
	assert.ErrorIs(t, err, ErrProofNotReady)
}
