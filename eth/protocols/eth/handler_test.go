package eth

import (
	"context"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testChain is a ChainReader over a small in-memory canonical chain.
type testChain struct {
	byHash   map[common.Hash]*types.Header
	byNum    map[uint64]*types.Header
	blocks   map[common.Hash]*types.Block
	receipts map[common.Hash]types.Receipts
}

// newTestChain creates a linked chain of n+1 blocks (genesis included), each
// header padded with an extra-data blob of the given size.
func newTestChain(n int, extraSize int) *testChain {
	c := &testChain{
		byHash:   make(map[common.Hash]*types.Header),
		byNum:    make(map[uint64]*types.Header),
		blocks:   make(map[common.Hash]*types.Block),
		receipts: make(map[common.Hash]types.Receipts),
	}
	parent := common.Hash{}
	for i := 0; i <= n; i++ {
		header := &types.Header{
			ParentHash: parent,
			Number:     big.NewInt(int64(i)),
			Difficulty: big.NewInt(1),
			Extra:      make([]byte, extraSize),
		}
		hash := header.Hash()
		c.byHash[hash] = header
		c.byNum[uint64(i)] = header
		c.blocks[hash] = types.NewBlockWithHeader(header)
		c.receipts[hash] = types.Receipts{{
			Type:              types.LegacyTxType,
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: 21000,
		}}
		parent = hash
	}
	return c
}

func (c *testChain) hashOf(number uint64) common.Hash {
	if header, ok := c.byNum[number]; ok {
		return header.Hash()
	}
	return common.Hash{}
}

func (c *testChain) BlockHash(number uint64) (common.Hash, error) {
	return c.hashOf(number), nil
}

func (c *testChain) HeaderByHashOrNumber(origin HashOrNumber) (*types.Header, error) {
	if origin.IsHash() {
		return c.byHash[origin.Hash], nil
	}
	return c.byNum[origin.Number], nil
}

func (c *testChain) BlockByHash(hash common.Hash) (*types.Block, error) {
	return c.blocks[hash], nil
}

func (c *testChain) ReceiptsByBlock(origin HashOrNumber) (types.Receipts, error) {
	if origin.IsHash() {
		return c.receipts[origin.Hash], nil
	}
	return c.receipts[c.hashOf(origin.Number)], nil
}

// nopReporter is an inert peer reporting hook.
type nopReporter struct{}

func (nopReporter) ReportPeer(enode.ID, string) {}

func newTestHandler(chain *testChain) *EthRequestHandler {
	return NewEthRequestHandler(chain, nopReporter{}, nil)
}

func headerNumbers(headers BlockHeadersPacket) []uint64 {
	numbers := make([]uint64, 0, len(headers))
	for _, header := range headers {
		numbers = append(numbers, header.Number.Uint64())
	}
	return numbers
}

// Tests that header queries walk the chain correctly in both directions,
// honoring skip distances and stopping on arithmetic wrap-arounds.
func TestGetBlockHeadersTraversal(t *testing.T) {
	chain := newTestChain(10, 0)
	handler := newTestHandler(chain)

	tests := []struct {
		name  string
		query *GetBlockHeadersPacket
		want  []uint64
	}{
		{
			name:  "falling by parent hash",
			query: &GetBlockHeadersPacket{Origin: HashOrNumber{Number: 5}, Amount: 3, Skip: 0, Reverse: true},
			want:  []uint64{5, 4, 3},
		},
		{
			name:  "rising with skip",
			query: &GetBlockHeadersPacket{Origin: HashOrNumber{Number: 0}, Amount: 4, Skip: 2, Reverse: false},
			want:  []uint64{0, 3, 6, 9},
		},
		{
			name:  "falling stops on underflow",
			query: &GetBlockHeadersPacket{Origin: HashOrNumber{Number: 1}, Amount: 5, Skip: 3, Reverse: true},
			want:  []uint64{1},
		},
		{
			name:  "rising stops on overflow",
			query: &GetBlockHeadersPacket{Origin: HashOrNumber{Number: 5}, Amount: 5, Skip: math.MaxUint64 - 5, Reverse: false},
			want:  []uint64{5},
		},
		{
			name:  "hash origin",
			query: &GetBlockHeadersPacket{Origin: HashOrNumber{Hash: chain.hashOf(7)}, Amount: 2, Skip: 0, Reverse: true},
			want:  []uint64{7, 6},
		},
		{
			name:  "falling by parent hash stops at genesis",
			query: &GetBlockHeadersPacket{Origin: HashOrNumber{Number: 2}, Amount: 10, Skip: 0, Reverse: true},
			want:  []uint64{2, 1, 0},
		},
		{
			name:  "rising past the head",
			query: &GetBlockHeadersPacket{Origin: HashOrNumber{Number: 9}, Amount: 5, Skip: 0, Reverse: false},
			want:  []uint64{9, 10},
		},
		{
			name:  "unknown start number",
			query: &GetBlockHeadersPacket{Origin: HashOrNumber{Number: 100}, Amount: 3},
			want:  []uint64{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := handler.answerGetBlockHeaders(tt.query, enode.ID{})
			assert.Equal(t, tt.want, headerNumbers(headers))
		})
	}
}

// Tests that the soft response limit is applied after appending: the header
// crossing the boundary is the last one included.
func TestGetBlockHeadersByteLimit(t *testing.T) {
	// Each header encodes to roughly 600KB, so three fit under the 2MiB soft
	// limit and the fourth crosses it.
	chain := newTestChain(10, 600_000)
	handler := newTestHandler(chain)

	headers := handler.answerGetBlockHeaders(&GetBlockHeadersPacket{
		Origin: HashOrNumber{Number: 0},
		Amount: 10,
	}, enode.ID{})
	require.Len(t, headers, 4)

	var total int
	for _, header := range headers[:len(headers)-1] {
		enc, err := rlp.EncodeToBytes(header)
		require.NoError(t, err)
		total += len(enc)
	}
	assert.LessOrEqual(t, total, softResponseLimit)
}

// Tests that a header query with an unknown start still gets a reply: an
// empty header list followed by the channel closing.
func TestGetBlockHeadersMissingStart(t *testing.T) {
	chain := newTestChain(10, 0)
	handler := newTestHandler(chain)

	resp := make(chan BlockHeadersPacket, 1)
	handler.serve(&GetBlockHeadersRequest{
		Peer:     enode.ID{1},
		Query:    &GetBlockHeadersPacket{Origin: HashOrNumber{Hash: common.Hash{0xff}}, Amount: 3},
		Response: resp,
	})
	headers, ok := <-resp
	require.True(t, ok, "reply must be delivered")
	assert.Empty(t, headers)

	_, ok = <-resp
	assert.False(t, ok, "reply channel must be closed after the single send")
}

// Tests that body queries are answered in request order and stop at the first
// unknown block.
func TestGetBlockBodies(t *testing.T) {
	chain := newTestChain(10, 0)
	handler := newTestHandler(chain)

	bodies := handler.answerGetBlockBodies(GetBlockBodiesPacket{
		chain.hashOf(1), chain.hashOf(2), common.Hash{0xde, 0xad}, chain.hashOf(4),
	})
	assert.Len(t, bodies, 2, "the miss must cut the response short")
}

// Tests receipt serving for both wire encodings, including the stop at the
// first unknown block and the bloomless projection.
func TestGetReceipts(t *testing.T) {
	chain := newTestChain(10, 0)
	handler := newTestHandler(chain)

	query := GetReceiptsPacket{chain.hashOf(1), chain.hashOf(2), common.Hash{0xbe, 0xef}, chain.hashOf(3)}

	receipts := handler.answerGetReceipts(query)
	require.Len(t, receipts, 2)

	receipts69 := handler.answerGetReceipts69(query)
	require.Len(t, receipts69, 2)

	// The bloomless projection must be strictly smaller on the wire.
	withBloom, err := rlp.EncodeToBytes(receipts[0])
	require.NoError(t, err)
	withoutBloom, err := rlp.EncodeToBytes(receipts69[0])
	require.NoError(t, err)
	assert.Less(t, len(withoutBloom), len(withBloom))

	var decoded ReceiptList69
	require.NoError(t, rlp.DecodeBytes(withoutBloom, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, types.ReceiptStatusSuccessful, decoded[0].Status)
	assert.Equal(t, uint64(21000), decoded[0].CumulativeGasUsed)
}

// Tests that node data requests are dropped: the reply channel closes without
// a response.
func TestNodeDataDropped(t *testing.T) {
	chain := newTestChain(1, 0)
	handler := newTestHandler(chain)

	resp := make(chan NodeDataPacket, 1)
	handler.serve(&GetNodeDataRequest{
		Peer:     enode.ID{1},
		Query:    GetNodeDataPacket{common.Hash{1}},
		Response: resp,
	})
	_, ok := <-resp
	assert.False(t, ok, "node data requests must close the sink without a reply")
}

// Tests that the run loop drains a backlog of requests even when the drain
// budget forces it to yield in between.
func TestRunDrainsBacklog(t *testing.T) {
	const requests = 50

	chain := newTestChain(10, 0)
	incoming := make(chan IncomingEthRequest, requests)
	handler := NewEthRequestHandler(chain, nopReporter{}, incoming)
	handler.drainBudget = time.Microsecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handler.Run(ctx)

	replies := make([]chan BlockHeadersPacket, requests)
	for i := range replies {
		replies[i] = make(chan BlockHeadersPacket, 1)
		incoming <- &GetBlockHeadersRequest{
			Peer:     enode.ID{byte(i)},
			Query:    &GetBlockHeadersPacket{Origin: HashOrNumber{Number: 0}, Amount: 1},
			Response: replies[i],
		}
	}
	for i, resp := range replies {
		select {
		case headers, ok := <-resp:
			require.True(t, ok, "request %d went unanswered", i)
			assert.Len(t, headers, 1)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for reply %d", i)
		}
	}
}
