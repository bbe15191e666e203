/*
Package etherman holds the solver's EVM access layer: one client per
configured chain, carrying a funded key, with typed entry points for
every contract interaction of the order lifecycle (initiate, fill,
oracle submission, claim) plus ERC20 plumbing.
*/
package etherman

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	logger "github.com/sirupsen/logrus"

	"github.com/Futaba-Labs/catalyst-example-solver/common"
	"github.com/Futaba-Labs/catalyst-example-solver/order"
)

// ErrMissingInitiatedEvent means a successful initiation transaction
// carried no OrderInitiated log. The reactor must emit it, so this is
// an invariant violation, not a retryable failure.
var ErrMissingInitiatedEvent = errors.New("no OrderInitiated event in successful receipt")

// ErrTxReverted wraps a mined-but-failed transaction.
var ErrTxReverted = errors.New("transaction reverted")

type ethereumClient interface {
	ethereum.ChainReader
	ethereum.ChainStateReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.LogFilterer
	ethereum.TransactionReader
	ethereum.TransactionSender

	bind.DeployBackend
	bind.ContractBackend
}

type Config struct {
	ChainId    int64
	URL        string
	PrivateKey string // hex, no 0x prefix required
}

// Client is the solver's handle on one EVM chain.
type Client struct {
	chainId   *big.Int
	ethClient ethereumClient
	auth      *bind.TransactOpts
	key       *ecdsa.PrivateKey
	address   ethcommon.Address

	mu    sync.Mutex
	bound map[string]*bind.BoundContract // "abi-name:address" -> contract
}

func NewClient(cfg *Config) (*Client, error) {
	ethClient, err := ethclient.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	key, err := crypto.HexToECDSA(common.Trim0xPrefix(cfg.PrivateKey))
	if err != nil {
		return nil, err
	}
	chainId := big.NewInt(cfg.ChainId)
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainId)
	if err != nil {
		return nil, err
	}

	return &Client{
		chainId:   chainId,
		ethClient: ethClient,
		auth:      auth,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		bound:     make(map[string]*bind.BoundContract),
	}, nil
}

// SignDigest signs a 32-byte digest with the solver key.
func (c *Client) SignDigest(digest [32]byte) ([]byte, error) {
	return crypto.Sign(digest[:], c.key)
}

func (c *Client) ChainId() *big.Int { return new(big.Int).Set(c.chainId) }

// Address is the solver's account on this chain.
func (c *Client) Address() ethcommon.Address { return c.address }

// SolverIdentifier is the solver address left-padded to 32 bytes, the
// form fill and claim calls expect.
func (c *Client) SolverIdentifier() [32]byte {
	return common.AddressToBytes32(c.address)
}

func (c *Client) contract(name string, parsed abi.ABI, addr ethcommon.Address) *bind.BoundContract {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := name + ":" + addr.Hex()
	if bc, ok := c.bound[key]; ok {
		return bc
	}
	bc := bind.NewBoundContract(addr, parsed, c.ethClient, c.ethClient, c.ethClient)
	c.bound[key] = bc
	return bc
}

// abiCrossChainOrder mirrors the reactor's order tuple; orderData is
// delivered pre-encoded.
type abiCrossChainOrder struct {
	SettlementContract ethcommon.Address
	Swapper            ethcommon.Address
	Nonce              *big.Int
	OriginChainId      uint32
	InitiateDeadline   uint32
	FillDeadline       uint32
	OrderData          []byte
}

// Initiate calls the reactor's initiate entry point and waits for the
// transaction to mine. A reverted transaction is returned as
// ErrTxReverted with no further state change.
func (c *Client) Initiate(ctx context.Context, o *order.CrossChainOrder, signature, fillerData []byte) (*types.Receipt, error) {
	encodedOrderData, err := order.EncodeOrderData(o.OrderData)
	if err != nil {
		return nil, err
	}

	reactor := c.contract("reactor", reactorABI, o.SettlementContract)
	tx, err := reactor.Transact(c.txOpts(ctx), "initiate", abiCrossChainOrder{
		SettlementContract: o.SettlementContract,
		Swapper:            o.Swapper,
		Nonce:              o.Nonce,
		OriginChainId:      o.OriginChainId,
		InitiateDeadline:   o.InitiateDeadline,
		FillDeadline:       o.FillDeadline,
		OrderData:          encodedOrderData,
	}, signature, fillerData)
	if err != nil {
		return nil, err
	}

	logger.Infof("initiate sent: reactor=%s tx=%s", o.SettlementContract, tx.Hash())
	return c.WaitMined(ctx, tx)
}

// ParseOrderInitiated extracts the canonical OrderKey from an
// initiation receipt. The log must come from the reactor itself and
// match the expected topic.
func (c *Client) ParseOrderInitiated(receipt *types.Receipt, reactor ethcommon.Address) (*order.OrderKey, [32]byte, error) {
	for _, vlog := range receipt.Logs {
		if vlog.Address != reactor || len(vlog.Topics) == 0 {
			continue
		}
		if vlog.Topics[0] != OrderInitiatedSignatureHash {
			continue
		}

		var ev struct {
			FillerData []byte
			OrderKey   order.OrderKey
		}
		if err := reactorABI.UnpackIntoInterface(&ev, "OrderInitiated", vlog.Data); err != nil {
			return nil, [32]byte{}, err
		}

		var orderHash [32]byte
		if len(vlog.Topics) > 1 {
			orderHash = vlog.Topics[1]
		}
		return &ev.OrderKey, orderHash, nil
	}

	return nil, [32]byte{}, ErrMissingInitiatedEvent
}

// abiMandateOutput is the filler/settler-side tuple of one output.
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

func toABIMandateOutput(o *order.MandateOutput) (abiMandateOutput, error) {
	if len(o.Token) != 32 {
		return abiMandateOutput{}, common.ErrUnexpectedTokenLength
	}
	var token [32]byte
	copy(token[:], o.Token)
	return abiMandateOutput{
		Oracle:    o.Oracle,
		Settler:   o.Settler,
		ChainId:   o.ChainId,
		Token:     token,
		Amount:    o.Amount,
		Recipient: o.Recipient,
		Call:      o.Call,
		Context:   o.Context,
	}, nil
}

// Fill pays one output through the destination chain's filler
// contract.
func (c *Client) Fill(ctx context.Context, filler ethcommon.Address, orderId [32]byte, output *order.MandateOutput, solverId [32]byte) (*types.Receipt, error) {
	abiOutput, err := toABIMandateOutput(output)
	if err != nil {
		return nil, err
	}

	contract := c.contract("filler", fillerABI, filler)
	tx, err := contract.Transact(c.txOpts(ctx), "fill", orderId, abiOutput, solverId)
	if err != nil {
		return nil, err
	}

	logger.Infof("fill sent: filler=%s order=%x tx=%s", filler, orderId, tx.Hash())
	return c.WaitMined(ctx, tx)
}

// SubmitFillDescriptions posts the packed fill proofs to a
// message-relay oracle.
func (c *Client) SubmitFillDescriptions(ctx context.Context, oracle, filler ethcommon.Address, payloads [][]byte) (*types.Receipt, error) {
	contract := c.contract("oracle", oracleABI, oracle)
	tx, err := contract.Transact(c.txOpts(ctx), "submit", filler, payloads)
	if err != nil {
		return nil, err
	}

	logger.Infof("oracle submit sent: oracle=%s payloads=%d tx=%s", oracle, len(payloads), tx.Hash())
	return c.WaitMined(ctx, tx)
}

// FillLegacy pays the outputs of a legacy order through the remote
// oracle's own fill entry point.
func (c *Client) FillLegacy(ctx context.Context, oracle ethcommon.Address, outputs []order.OutputDescription, fillTimes []uint32) (*types.Receipt, error) {
	contract := c.contract("oracle", oracleABI, oracle)
	tx, err := contract.Transact(c.txOpts(ctx), "fill", outputs, fillTimes)
	if err != nil {
		return nil, err
	}

	logger.Infof("legacy fill sent: oracle=%s outputs=%d tx=%s", oracle, len(outputs), tx.Hash())
	return c.WaitMined(ctx, tx)
}

// ReceiveMessage relays an externally produced attestation to a
// proof-service oracle.
func (c *Client) ReceiveMessage(ctx context.Context, oracle ethcommon.Address, rawMessage []byte) (*types.Receipt, error) {
	contract := c.contract("oracle", oracleABI, oracle)
	tx, err := contract.Transact(c.txOpts(ctx), "receiveMessage", rawMessage)
	if err != nil {
		return nil, err
	}

	logger.Infof("receiveMessage sent: oracle=%s tx=%s", oracle, tx.Hash())
	return c.WaitMined(ctx, tx)
}

// abiStandardOrder mirrors the settler's order tuple.
type abiStandardOrder struct {
	User          ethcommon.Address
	Nonce         *big.Int
	OriginChainId *big.Int
	Expires       uint32
	FillDeadline  uint32
	LocalOracle   ethcommon.Address
	Inputs        [][2]*big.Int
	Outputs       []abiMandateOutput
}

// FinaliseSelf claims an order on the origin-chain settler after its
// fills were proven.
func (c *Client) FinaliseSelf(ctx context.Context, settler ethcommon.Address, o *order.StandardOrder, signatures []byte, timestamps []uint32, solver [32]byte) (*types.Receipt, error) {
	outputs := make([]abiMandateOutput, 0, len(o.Outputs))
	for i := range o.Outputs {
		out, err := toABIMandateOutput(&o.Outputs[i])
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}

	contract := c.contract("settler", settlerABI, settler)
	tx, err := contract.Transact(c.txOpts(ctx), "finaliseSelf", abiStandardOrder{
		User:          o.User,
		Nonce:         o.Nonce,
		OriginChainId: o.OriginChainId,
		Expires:       o.Expires,
		FillDeadline:  o.FillDeadline,
		LocalOracle:   o.LocalOracle,
		Inputs:        o.Inputs,
		Outputs:       outputs,
	}, signatures, timestamps, solver)
	if err != nil {
		return nil, err
	}

	logger.Infof("finaliseSelf sent: settler=%s tx=%s", settler, tx.Hash())
	return c.WaitMined(ctx, tx)
}

func (c *Client) ERC20BalanceOf(ctx context.Context, token, account ethcommon.Address) (*big.Int, error) {
	var out []interface{}
	contract := c.contract("erc20", erc20ABI, token)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (c *Client) ERC20Allowance(ctx context.Context, token, owner, spender ethcommon.Address) (*big.Int, error) {
	var out []interface{}
	contract := c.contract("erc20", erc20ABI, token)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", owner, spender); err != nil {
		return nil, err
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (c *Client) ERC20Approve(ctx context.Context, token, spender ethcommon.Address, amount *big.Int) (*types.Receipt, error) {
	contract := c.contract("erc20", erc20ABI, token)
	tx, err := contract.Transact(c.txOpts(ctx), "approve", spender, amount)
	if err != nil {
		return nil, err
	}
	return c.WaitMined(ctx, tx)
}

// WaitMined blocks until the transaction mines and converts a failed
// status into ErrTxReverted.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.ethClient, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: tx=%s", ErrTxReverted, tx.Hash())
	}
	return receipt, nil
}

// BlockTimestamp returns the unix time of the given block, used as the
// fill timestamp in proof payloads.
func (c *Client) BlockTimestamp(ctx context.Context, number *big.Int) (uint32, error) {
	header, err := c.ethClient.HeaderByNumber(ctx, number)
	if err != nil {
		return 0, err
	}
	return uint32(header.Time), nil
}

func (c *Client) txOpts(ctx context.Context) *bind.TransactOpts {
	opts := *c.auth
	opts.Context = ctx
	return &opts
}
