package etherman

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI surfaces of the contracts the solver talks to, parsed
// once at startup.
const (
	reactorABIJSON = `[
		{"type":"function","name":"initiate","stateMutability":"nonpayable","inputs":[
			{"name":"order","type":"tuple","components":[
				{"name":"settlementContract","type":"address"},
				{"name":"swapper","type":"address"},
				{"name":"nonce","type":"uint256"},
				{"name":"originChainId","type":"uint32"},
				{"name":"initiateDeadline","type":"uint32"},
				{"name":"fillDeadline","type":"uint32"},
				{"name":"orderData","type":"bytes"}]},
			{"name":"signature","type":"bytes"},
			{"name":"fillerData","type":"bytes"}],
		"outputs":[]},
		{"type":"event","name":"OrderInitiated","inputs":[
			{"name":"orderHash","type":"bytes32","indexed":true},
			{"name":"filler","type":"address","indexed":true},
			{"name":"fillerData","type":"bytes","indexed":false},
			{"name":"orderKey","type":"tuple","indexed":false,"components":[
				{"name":"reactorContext","type":"tuple","components":[
					{"name":"reactor","type":"address"},
					{"name":"fillDeadline","type":"uint256"},
					{"name":"challengeDeadline","type":"uint256"},
					{"name":"proofDeadline","type":"uint256"}]},
				{"name":"swapper","type":"address"},
				{"name":"nonce","type":"uint256"},
				{"name":"collateral","type":"tuple","components":[
					{"name":"collateralToken","type":"address"},
					{"name":"fillerCollateralAmount","type":"uint256"},
					{"name":"challengerCollateralAmount","type":"uint256"}]},
				{"name":"originChainId","type":"uint256"},
				{"name":"localOracle","type":"address"},
				{"name":"inputs","type":"tuple[]","components":[
					{"name":"token","type":"address"},
					{"name":"amount","type":"uint256"}]},
				{"name":"outputs","type":"tuple[]","components":[
					{"name":"remoteOracle","type":"bytes32"},
					{"name":"token","type":"bytes32"},
					{"name":"amount","type":"uint256"},
					{"name":"recipient","type":"bytes32"},
					{"name":"chainId","type":"uint32"},
					{"name":"remoteCall","type":"bytes"}]}]}]}
	]`

	fillerABIJSON = `[
		{"type":"function","name":"fill","stateMutability":"nonpayable","inputs":[
			{"name":"orderId","type":"bytes32"},
			{"name":"output","type":"tuple","components":[
				{"name":"oracle","type":"bytes32"},
				{"name":"settler","type":"bytes32"},
				{"name":"chainId","type":"uint256"},
				{"name":"token","type":"bytes32"},
				{"name":"amount","type":"uint256"},
				{"name":"recipient","type":"bytes32"},
				{"name":"call","type":"bytes"},
				{"name":"context","type":"bytes"}]},
			{"name":"solverIdentifier","type":"bytes32"}],
		"outputs":[]}
	]`

	oracleABIJSON = `[
		{"type":"function","name":"submit","stateMutability":"payable","inputs":[
			{"name":"source","type":"address"},
			{"name":"payloads","type":"bytes[]"}],
		"outputs":[{"name":"refund","type":"uint256"}]},
		{"type":"function","name":"receiveMessage","stateMutability":"nonpayable","inputs":[
			{"name":"rawMessage","type":"bytes"}],
		"outputs":[]},
		{"type":"function","name":"fill","stateMutability":"nonpayable","inputs":[
			{"name":"outputs","type":"tuple[]","components":[
				{"name":"remoteOracle","type":"bytes32"},
				{"name":"token","type":"bytes32"},
				{"name":"amount","type":"uint256"},
				{"name":"recipient","type":"bytes32"},
				{"name":"chainId","type":"uint32"},
				{"name":"remoteCall","type":"bytes"}]},
			{"name":"fillTimes","type":"uint32[]"}],
		"outputs":[]}
	]`

	settlerABIJSON = `[
		{"type":"function","name":"finaliseSelf","stateMutability":"nonpayable","inputs":[
			{"name":"order","type":"tuple","components":[
				{"name":"user","type":"address"},
				{"name":"nonce","type":"uint256"},
				{"name":"originChainId","type":"uint256"},
				{"name":"expires","type":"uint32"},
				{"name":"fillDeadline","type":"uint32"},
				{"name":"localOracle","type":"address"},
				{"name":"inputs","type":"uint256[2][]"},
				{"name":"outputs","type":"tuple[]","components":[
					{"name":"oracle","type":"bytes32"},
					{"name":"settler","type":"bytes32"},
					{"name":"chainId","type":"uint256"},
					{"name":"token","type":"bytes32"},
					{"name":"amount","type":"uint256"},
					{"name":"recipient","type":"bytes32"},
					{"name":"call","type":"bytes"},
					{"name":"context","type":"bytes"}]}]},
			{"name":"signatures","type":"bytes"},
			{"name":"timestamps","type":"uint32[]"},
			{"name":"solver","type":"bytes32"}],
		"outputs":[]}
	]`

	erc20ABIJSON = `[
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
			{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"allowance","stateMutability":"view","inputs":[
			{"name":"owner","type":"address"},
			{"name":"spender","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
			{"name":"spender","type":"address"},
			{"name":"amount","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]}
	]`
)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

var (
	reactorABI = mustParseABI(reactorABIJSON)
	fillerABI  = mustParseABI(fillerABIJSON)
	oracleABI  = mustParseABI(oracleABIJSON)
	settlerABI = mustParseABI(settlerABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)

	// OrderInitiatedSignatureHash is topic 0 of the reactor's
	// initiation event.
	OrderInitiatedSignatureHash = reactorABI.Events["OrderInitiated"].ID
)

// signaturesArgs packs (sponsorSignature, allocatorSignature) for the
// settler's finalise call.
var signaturesArgs = abi.Arguments{
	{Type: mustABIType("bytes")},
	{Type: mustABIType("bytes")},
}

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// PackSignatures ABI-encodes the sponsor and allocator signatures the
// settler expects as one opaque blob.
func PackSignatures(sponsor, allocator []byte) ([]byte, error) {
	return signaturesArgs.Pack(sponsor, allocator)
}
