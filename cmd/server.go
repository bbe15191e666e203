// Server = evm-side clients + btc-side wallet + pipeline + order server
// transport + http reporter.
// All components are configured via a config file / environment (strings!).

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	ethcommon "github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	logger "github.com/sirupsen/logrus"

	"github.com/Futaba-Labs/catalyst-example-solver/btcman/gateway"
	"github.com/Futaba-Labs/catalyst-example-solver/btcman/wallet"
	"github.com/Futaba-Labs/catalyst-example-solver/btcman/walletdb"
	"github.com/Futaba-Labs/catalyst-example-solver/etherman"
	"github.com/Futaba-Labs/catalyst-example-solver/evaluator"
	"github.com/Futaba-Labs/catalyst-example-solver/orderserver"
	"github.com/Futaba-Labs/catalyst-example-solver/pipeline"
	"github.com/Futaba-Labs/catalyst-example-solver/reporter"
)

// Default params for the server.
// More often we don't recommend users to tweak those.
// So we list them here.
const (
	underwritingDuration = 5 * time.Minute
)

// ChainEntry describes one EVM chain the solver operates on.
type ChainEntry struct {
	ChainId    int64  `mapstructure:"chainId"`
	URL        string `mapstructure:"url"`
	PrivateKey string `mapstructure:"privateKey"`
	Settler    string `mapstructure:"settler"`
}

// OracleEntry marks one oracle contract as approved.
type OracleEntry struct {
	ChainId uint64 `mapstructure:"chainId"`
	Address string `mapstructure:"address"`
	Type    string `mapstructure:"type"` // "EVM" or "Bitcoin"
}

// Keep the configuration's fields as "text" as possible.
// Its easier to load it from env vars or a config file.
type SolverServerConfig struct {
	// evm side
	Chains              []ChainEntry
	Oracles             []OracleEntry
	CollateralTokens    map[uint64][]string
	LimitOrderReactor   string
	DutchAuctionReactor string

	// state side
	DbFilePath string // db file path

	// btc side
	BtcGatewayURL  string           // esplora-style REST endpoint
	BtcChainConfig *chaincfg.Params // regtest, testnet, mainnet?
	BtcRootXPriv   string           // BIP32 root key of the solver wallet

	// order server side
	OrderServerURL string
	Quotes         map[string]map[string]float64

	// validation side
	ProofServiceURL string
	ProofOracles    []string // oracle addresses validated via the proof service

	Discount float64

	// Http side
	HttpIp   string // eg. 0.0.0.0
	HttpPort string // eg. 8080
}

// SolverServer holds the objects that consists of the solver server.
type SolverServer struct {
	MyWalletDb    *walletdb.WalletDB
	MyWallet      *wallet.Engine
	MyChains      map[uint64]*etherman.Client
	MyEvaluator   *evaluator.Evaluator
	MyPipeline    *pipeline.Pipeline
	MyOrderClient *orderserver.Client
}

// NewSolverServer creates a new solver server.
// ctx is used for parental context to cancel the operation of the server.
// wg is used to wait for the goroutines inside the server (order client,
// wallet jobs) to finish.
func NewSolverServer(ssc *SolverServerConfig, ctx context.Context, wg *sync.WaitGroup) (*SolverServer, error) {
	// BTC side config

	// 1) Create the wallet database.
	sqldb, err := sql.Open("sqlite3", ssc.DbFilePath)
	if err != nil {
		logger.Fatalf("failed to open db file: %v", err)
		return nil, err
	}
	myWalletDb, err := walletdb.NewWalletDB(sqldb)
	if err != nil {
		logger.Fatalf("failed to create wallet db: %v", err)
		return nil, err
	}

	// 2) Create the gateway to the Bitcoin network.
	myGateway := gateway.NewMempoolClient(ssc.BtcGatewayURL)

	// 3) Create the wallet engine and turn on its background jobs.
	myWallet, err := wallet.NewEngine(&wallet.Config{
		XPriv:       ssc.BtcRootXPriv,
		ChainParams: ssc.BtcChainConfig,
	}, myGateway, myWalletDb)
	if err != nil {
		logger.Fatalf("failed to create wallet engine: %v", err)
		return nil, err
	}
	if err := myWallet.Start(ctx); err != nil {
		logger.Fatalf("failed to start wallet engine: %v", err)
		return nil, err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		myWallet.Stop()
	}()

	// EVM side config

	// 1) Create one etherman client per configured chain.
	myChains := make(map[uint64]*etherman.Client, len(ssc.Chains))
	settlers := make(map[uint64]ethcommon.Address, len(ssc.Chains))
	pipelineChains := make(map[uint64]pipeline.ChainClient, len(ssc.Chains))
	balanceReaders := make(map[uint64]evaluator.BalanceReader, len(ssc.Chains))
	supportedChains := make([]uint64, 0, len(ssc.Chains))
	for _, entry := range ssc.Chains {
		client, err := etherman.NewClient(&etherman.Config{
			ChainId:    entry.ChainId,
			URL:        entry.URL,
			PrivateKey: entry.PrivateKey,
		})
		if err != nil {
			logger.Fatalf("failed to create chain client for %d: %v", entry.ChainId, err)
			return nil, err
		}
		chainId := uint64(entry.ChainId)
		myChains[chainId] = client
		pipelineChains[chainId] = client
		balanceReaders[chainId] = client
		supportedChains = append(supportedChains, chainId)
		if entry.Settler != "" {
			settlers[chainId] = ethcommon.HexToAddress(entry.Settler)
		}
		logger.WithField("address", client.Address().Hex()).Infof("solver account on chain %d", chainId)
	}

	// 2) Create the evaluator over the approved-oracle allow lists.
	approvedOracles := make(map[uint64]map[ethcommon.Address]evaluator.OracleType)
	for _, entry := range ssc.Oracles {
		if approvedOracles[entry.ChainId] == nil {
			approvedOracles[entry.ChainId] = make(map[ethcommon.Address]evaluator.OracleType)
		}
		approvedOracles[entry.ChainId][ethcommon.HexToAddress(entry.Address)] = evaluator.OracleType(entry.Type)
	}
	collateralTokens := make(map[uint64]map[ethcommon.Address]bool)
	for chainId, tokens := range ssc.CollateralTokens {
		collateralTokens[chainId] = make(map[ethcommon.Address]bool, len(tokens))
		for _, token := range tokens {
			collateralTokens[chainId][ethcommon.HexToAddress(token)] = true
		}
	}
	myEvaluator := evaluator.New(&evaluator.Config{
		ApprovedOracles:     approvedOracles,
		CollateralTokens:    collateralTokens,
		LimitOrderReactor:   ethcommon.HexToAddress(ssc.LimitOrderReactor),
		DutchAuctionReactor: ethcommon.HexToAddress(ssc.DutchAuctionReactor),
	}, balanceReaders)

	// 3) Create the pipeline. Every approved oracle gets a validation
	// backend entry; the ones listed as proof-backed use the proof
	// service, the rest the message relay.
	proofOracles := make(map[ethcommon.Address]bool)
	for _, entry := range ssc.Oracles {
		proofOracles[ethcommon.HexToAddress(entry.Address)] = false
	}
	for _, addr := range ssc.ProofOracles {
		proofOracles[ethcommon.HexToAddress(addr)] = true
	}
	myPipeline := pipeline.New(&pipeline.Config{
		Settlers:             settlers,
		ProofOracles:         proofOracles,
		ProofServiceURL:      ssc.ProofServiceURL,
		UnderwritingDuration: underwritingDuration,
		Discount:             ssc.Discount,
		ChainParams:          ssc.BtcChainConfig,
	}, myEvaluator, myWallet, pipelineChains)

	// 4) Create the order server client and turn it on.
	myOrderClient := orderserver.NewClient(&orderserver.Config{
		URL:             ssc.OrderServerURL,
		SupportedChains: supportedChains,
		Quotes:          ssc.Quotes,
	}, myPipeline)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := myOrderClient.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Fatalf("order server client stopped: %v", err)
		}
	}()

	// *** Setup a http server to report status ***
	http_server := reporter.NewHttpReporter(
		ssc.HttpIp,
		ssc.HttpPort,
		myWallet,
		myPipeline,
	)
	// Turn on the http server
	go http_server.Run()

	// Give it some time to start the http server
	time.Sleep(1 * time.Second)
	// *** End the setup of http server ***

	return &SolverServer{
		MyWalletDb:    myWalletDb,
		MyWallet:      myWallet,
		MyChains:      myChains,
		MyEvaluator:   myEvaluator,
		MyPipeline:    myPipeline,
		MyOrderClient: myOrderClient,
	}, nil
}

// Create, then start the solver server and wait.
// It contains a prepared solver server and context + waitgroup.
// Press Ctrl-C to kill the server.
func StartSolverServerAndWait(ssc *SolverServerConfig) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // defense programing

	// Set up a signal channel to listen for Ctrl‑C (SIGINT) or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Launch a new goroutine to handle the signal
	go func() {
		sig := <-sigCh
		fmt.Printf("Received signal: %v, cancelling context...\n", sig)
		cancel()
	}()

	var wg sync.WaitGroup

	_, err := NewSolverServer(ssc, ctx, &wg)
	if err != nil {
		logger.Fatalf("failed to create solver server: %v", err)
		return
	}

	// wait for all routines to finish
	wg.Wait()
}
