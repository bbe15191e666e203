package order

import (
	"bytes"
	"encoding/binary"
	"math"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Filler-data versions understood by the reactor.
const (
	fillerDataVersionPlain    = 0x01
	fillerDataVersionExecData = 0x02
)

// FillerData packs the solver's initiation metadata: where input
// tokens should be paid out, until when the fill may be purchased by
// an underwriter, and the acceleration discount offered for it. The
// discount fraction is scaled to uint16. When execData is present, a
// version 0x02 blob carrying its keccak hash is produced instead.
func FillerData(payTo ethcommon.Address, purchaseDeadline uint32, discount float64, execData []byte) []byte {
	var buf bytes.Buffer

	if len(execData) == 0 {
		buf.WriteByte(fillerDataVersionPlain)
	} else {
		buf.WriteByte(fillerDataVersionExecData)
	}

	buf.Write(payTo.Bytes())

	var deadline [4]byte
	binary.BigEndian.PutUint32(deadline[:], purchaseDeadline)
	buf.Write(deadline[:])

	var scaled [2]byte
	binary.BigEndian.PutUint16(scaled[:], uint16(math.Floor(discount*float64(math.MaxUint16))))
	buf.Write(scaled[:])

	if len(execData) > 0 {
		hash := crypto.Keccak256(execData)
		buf.Write(hash)
	}

	return buf.Bytes()
}
