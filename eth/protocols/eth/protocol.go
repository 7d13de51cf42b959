// Package eth implements the server side of the `eth` data retrieval protocol:
// typed request/response packets and the background handler answering peer
// queries for headers, bodies and receipts.
package eth

import (
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	errBadStatusEncoding = errors.New("invalid receipt status encoding")
)

// HashOrNumber is a combined field for specifying an origin block.
type HashOrNumber struct {
	Hash   common.Hash // Block hash from which to retrieve headers (excludes Number)
	Number uint64      // Block number from which to retrieve headers (excludes Hash)
}

// IsHash reports whether the origin is specified by hash. The zero hash is
// reserved for number-based origins.
func (hn HashOrNumber) IsHash() bool {
	return hn.Hash != (common.Hash{})
}

// EncodeRLP is a specialized encoder for HashOrNumber to encode only one of the
// two contained union fields.
func (hn HashOrNumber) EncodeRLP(w io.Writer) error {
	if hn.Hash == (common.Hash{}) {
		return rlp.Encode(w, hn.Number)
	}
	if hn.Number != 0 {
		return fmt.Errorf("both origin hash (%x) and number (%d) provided", hn.Hash, hn.Number)
	}
	return rlp.Encode(w, hn.Hash)
}

// DecodeRLP is a specialized decoder for HashOrNumber to decode the contents
// into either a block hash or a block number.
func (hn *HashOrNumber) DecodeRLP(s *rlp.Stream) error {
	_, size, err := s.Kind()
	switch {
	case err != nil:
		return err
	case size == 32:
		hn.Number = 0
		return s.Decode(&hn.Hash)
	default:
		hn.Hash = common.Hash{}
		return s.Decode(&hn.Number)
	}
}

// GetBlockHeadersPacket represents a block header query. Reverse selects the
// traversal direction: false walks towards the leaf blocks, true walks towards
// the genesis block.
type GetBlockHeadersPacket struct {
	Origin  HashOrNumber // Block from which to retrieve headers
	Amount  uint64       // Maximum number of headers to retrieve
	Skip    uint64       // Blocks to skip between consecutive headers
	Reverse bool         // Query direction (false = rising towards latest, true = falling towards genesis)
}

// BlockHeadersPacket is the answer to a header query.
type BlockHeadersPacket []*types.Header

// GetBlockBodiesPacket represents a block body query by block hashes.
type GetBlockBodiesPacket []common.Hash

// BlockBodiesPacket is the answer to a body query.
type BlockBodiesPacket []*types.Body

// GetNodeDataPacket represents a trie node data query.
type GetNodeDataPacket []common.Hash

// NodeDataPacket is the answer to a trie node data query.
type NodeDataPacket [][]byte

// GetReceiptsPacket represents a block receipts query by block hashes. The
// same query shape backs both receipt response encodings.
type GetReceiptsPacket []common.Hash

// ReceiptsPacket is the answer to a receipt query, grouped per block. Each
// receipt carries its logs bloom on the wire.
type ReceiptsPacket [][]*types.Receipt

// Receipts69Packet is the answer to a receipt query for peers that negotiated
// the bloomless receipt encoding. Grouping per block is preserved.
type Receipts69Packet []ReceiptList69

// ReceiptList69 groups the receipts of a single block. Its wire form omits the
// per-receipt logs bloom: every receipt encodes as
// [tx-type, post-state-or-status, cumulative-gas-used, logs].
type ReceiptList69 []*types.Receipt

// receipt69 is the bloomless wire representation of a single receipt.
type receipt69 struct {
	TxType            uint8
	PostStateOrStatus []byte
	CumulativeGasUsed uint64
	Logs              []*types.Log
}

// EncodeRLP projects the receipts into their bloomless representation.
func (rs ReceiptList69) EncodeRLP(w io.Writer) error {
	enc := make([]*receipt69, len(rs))
	for i, r := range rs {
		enc[i] = &receipt69{
			TxType:            r.Type,
			PostStateOrStatus: statusEncoding(r),
			CumulativeGasUsed: r.CumulativeGasUsed,
			Logs:              r.Logs,
		}
	}
	return rlp.Encode(w, enc)
}

// DecodeRLP decodes a bloomless receipt group. The logs bloom of the decoded
// receipts is left empty; it is not part of this encoding.
func (rs *ReceiptList69) DecodeRLP(s *rlp.Stream) error {
	var dec []*receipt69
	if err := s.Decode(&dec); err != nil {
		return err
	}
	out := make(ReceiptList69, len(dec))
	for i, r := range dec {
		receipt := &types.Receipt{
			Type:              r.TxType,
			CumulativeGasUsed: r.CumulativeGasUsed,
			Logs:              r.Logs,
		}
		if err := setStatusEncoding(receipt, r.PostStateOrStatus); err != nil {
			return err
		}
		out[i] = receipt
	}
	*rs = out
	return nil
}

// statusEncoding returns the consensus encoding of the receipt's post-state or
// status field.
func statusEncoding(r *types.Receipt) []byte {
	if len(r.PostState) > 0 {
		return r.PostState
	}
	if r.Status == types.ReceiptStatusFailed {
		return []byte{}
	}
	return []byte{0x01}
}

// setStatusEncoding applies a decoded post-state-or-status field to a receipt.
func setStatusEncoding(r *types.Receipt, enc []byte) error {
	switch {
	case len(enc) == common.HashLength:
		r.PostState = enc
	case len(enc) == 0:
		r.Status = types.ReceiptStatusFailed
	case len(enc) == 1 && enc[0] == 0x01:
		r.Status = types.ReceiptStatusSuccessful
	default:
		return errBadStatusEncoding
	}
	return nil
}
