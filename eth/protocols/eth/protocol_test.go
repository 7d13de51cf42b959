package eth

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests that the hash-or-number union encodes whichever field is set and
// rejects ambiguous values.
func TestHashOrNumberUnion(t *testing.T) {
	tests := []HashOrNumber{
		{Number: 0},
		{Number: 314},
		{Hash: common.Hash{0x0a}},
	}
	for _, origin := range tests {
		enc, err := rlp.EncodeToBytes(origin)
		require.NoError(t, err)

		var dec HashOrNumber
		require.NoError(t, rlp.DecodeBytes(enc, &dec))
		assert.Equal(t, origin, dec)
	}
	_, err := rlp.EncodeToBytes(HashOrNumber{Hash: common.Hash{0x0a}, Number: 1})
	assert.Error(t, err, "setting both fields must not encode")
}
