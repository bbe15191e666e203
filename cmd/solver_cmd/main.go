package main

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"

	"github.com/Futaba-Labs/catalyst-example-solver/cmd"
	"github.com/Futaba-Labs/catalyst-example-solver/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "SOLVER_CONFIG"
)

func main() {
	logconfig.ConfigInfoLogger()

	// Tool to read environment variables
	viper.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	fmt.Printf("Solver server configuration file = %s\n", _config_file)

	// See if file exists
	if !cmd.FileExists(_config_file) {
		fmt.Printf("Solver server configuration file not found: %s\n", _config_file)
		return
	}

	// Read from config file.
	success := initializeViper(_config_file)
	if !success {
		return
	}

	// Make the configuration
	ssc := PrepareSolverServerConfig()
	if ssc == nil {
		fmt.Printf("Error loading solver server configuration\n")
		return
	}

	fmt.Println("Starting solver server... press Ctrl+C to kill the server")
	// Start server and block.
	cmd.StartSolverServerAndWait(ssc)
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s", err)
		return false
	}
	return true
}

// PrepareSolverServerConfig reads configuration variables and returns a SolverServerConfig.
func PrepareSolverServerConfig() *cmd.SolverServerConfig {

	// *** prepare objects that aren't string type ***

	// Parse the BTC chain config (e.g., "regtest", "testnet", or "mainnet").
	var btcParams *chaincfg.Params
	switch viper.GetString("BTC_CHAIN_CONFIG") {
	case "testnet":
		btcParams = &chaincfg.TestNet3Params
	case "mainnet":
		btcParams = &chaincfg.MainNetParams
	case "regtest":
		btcParams = &chaincfg.RegressionNetParams
	default:
		// default to regtest
		btcParams = &chaincfg.RegressionNetParams
	}

	// Structured sections of the config file.
	var chains []cmd.ChainEntry
	if err := viper.UnmarshalKey("chains", &chains); err != nil {
		fmt.Printf("Error reading chains section, %s\n", err)
		return nil
	}
	if len(chains) == 0 {
		fmt.Println("No chains configured")
		return nil
	}

	var oracles []cmd.OracleEntry
	if err := viper.UnmarshalKey("oracles", &oracles); err != nil {
		fmt.Printf("Error reading oracles section, %s\n", err)
		return nil
	}

	collateralTokens := make(map[uint64][]string)
	if err := viper.UnmarshalKey("collateralTokens", &collateralTokens); err != nil {
		fmt.Printf("Error reading collateralTokens section, %s\n", err)
		return nil
	}

	quotes := make(map[string]map[string]float64)
	if err := viper.UnmarshalKey("quotes", &quotes); err != nil {
		fmt.Printf("Error reading quotes section, %s\n", err)
		return nil
	}

	return &cmd.SolverServerConfig{
		Chains:              chains,
		Oracles:             oracles,
		CollateralTokens:    collateralTokens,
		LimitOrderReactor:   viper.GetString("LIMIT_ORDER_REACTOR"),
		DutchAuctionReactor: viper.GetString("DUTCH_AUCTION_REACTOR"),

		DbFilePath: viper.GetString("DB_FILE_PATH"),

		BtcGatewayURL:  viper.GetString("BTC_GATEWAY_URL"),
		BtcChainConfig: btcParams,
		BtcRootXPriv:   viper.GetString("BTC_ROOT_XPRIV"),

		OrderServerURL: viper.GetString("ORDER_SERVER_URL"),
		Quotes:         quotes,

		ProofServiceURL: viper.GetString("PROOF_SERVICE_URL"),
		ProofOracles:    viper.GetStringSlice("PROOF_ORACLES"),

		Discount: viper.GetFloat64("DISCOUNT"),

		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),
	}
}
