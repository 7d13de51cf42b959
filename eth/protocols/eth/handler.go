package eth

import (
	"context"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/AmirulAndalib/reth/internal/budget"
)

const (
	// softResponseLimit is the target maximum size of replies to data retrievals.
	// The element that crosses the limit is still included in the response; the
	// accumulation stops right after it.
	softResponseLimit = 2 * 1024 * 1024

	// maxHeadersServe is the maximum number of block headers to serve. This number
	// is there to limit the number of disk lookups.
	maxHeadersServe = 1024

	// maxBodiesServe is the maximum number of block bodies to serve. This number
	// is mostly there to limit the number of disk lookups. With 24KB block sizes
	// nowadays, the practical limit will always be softResponseLimit.
	maxBodiesServe = 1024

	// maxReceiptsServe is the maximum number of block receipts to serve. This
	// number is mostly there to limit the number of disk lookups. With block
	// containing 200+ transactions nowadays, the practical limit will always
	// be softResponseLimit.
	maxReceiptsServe = 1024
)

// ChainReader supplies the chain data needed to answer peer queries. A nil
// result without an error is a clean miss. Lookup errors are treated exactly
// like misses: the affected slot is absent and the traversal stops.
type ChainReader interface {
	// BlockHash returns the canonical hash of the block at the given number,
	// or the zero hash if the number is not part of the canonical chain.
	BlockHash(number uint64) (common.Hash, error)

	// HeaderByHashOrNumber returns the header identified by the given origin.
	HeaderByHashOrNumber(origin HashOrNumber) (*types.Header, error)

	// BlockByHash returns the full block with the given hash.
	BlockByHash(hash common.Hash) (*types.Block, error)

	// ReceiptsByBlock returns the receipts of the block identified by the
	// given origin.
	ReceiptsByBlock(origin HashOrNumber) (types.Receipts, error)
}

// PeerReporter allows flagging misbehaving peers to the peer manager.
type PeerReporter interface {
	// ReportPeer adjusts the standing of the given peer.
	ReportPeer(id enode.ID, reason string)
}

// EthRequestHandler answers `eth` data retrieval queries arriving from the
// network layer. It is a background service: spawn Run on its own goroutine
// and feed it decoded request envelopes.
type EthRequestHandler struct {
	client ChainReader

	// Used for reporting peers.
	// TODO: use to report spammers once peer scoring lands.
	peers PeerReporter

	incoming    <-chan IncomingEthRequest
	drainBudget time.Duration
}

// NewEthRequestHandler creates a new handler serving chain data from the given
// reader to requests arriving on the incoming channel.
func NewEthRequestHandler(client ChainReader, peers PeerReporter, incoming <-chan IncomingEthRequest) *EthRequestHandler {
	return &EthRequestHandler{
		client:      client,
		peers:       peers,
		incoming:    incoming,
		drainBudget: budget.DefaultRequestsBudget,
	}
}

// Run processes incoming requests until the context is cancelled or the
// request channel is closed. After every blocking receive it keeps draining
// ready requests within a time budget; if the budget runs out with requests
// still queued, it yields the processor and resumes, so a busy request stream
// cannot monopolize the scheduler.
func (h *EthRequestHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-h.incoming:
			if !ok {
				return
			}
			start := time.Now()
			h.serve(req)
			exhausted := budget.Drain(h.drainBudget, h.tryServe)
			pollDurationCounter.Inc(time.Since(start).Seconds())
			if !exhausted {
				runtime.Gosched()
			}
		}
	}
}

// tryServe serves a single ready request, reporting whether one was available.
func (h *EthRequestHandler) tryServe() bool {
	select {
	case req, ok := <-h.incoming:
		if !ok {
			return false
		}
		h.serve(req)
		return true
	default:
		return false
	}
}

// serve dispatches a single request envelope, delivers the reply and closes
// the one-shot reply channel.
func (h *EthRequestHandler) serve(req IncomingEthRequest) {
	switch r := req.(type) {
	case *GetBlockHeadersRequest:
		headersRequestsCounter.Inc(1)
		r.Response <- h.answerGetBlockHeaders(r.Query, r.Peer)
		close(r.Response)

	case *GetBlockBodiesRequest:
		bodiesRequestsCounter.Inc(1)
		r.Response <- h.answerGetBlockBodies(r.Query)
		close(r.Response)

	case *GetNodeDataRequest:
		nodeDataRequestsCounter.Inc(1)
		// Serving state data is not supported, drop the request. The closed
		// reply channel tells the caller the query went unanswered.
		close(r.Response)

	case *GetReceiptsRequest:
		receiptsRequestsCounter.Inc(1)
		r.Response <- h.answerGetReceipts(r.Query)
		close(r.Response)

	case *GetReceipts69Request:
		receiptsRequestsCounter.Inc(1)
		r.Response <- h.answerGetReceipts69(r.Query)
		close(r.Response)
	}
}

// answerGetBlockHeaders collects the requested headers, capped by the header
// count limit and the soft response size.
func (h *EthRequestHandler) answerGetBlockHeaders(query *GetBlockHeadersPacket, peer enode.ID) BlockHeadersPacket {
	// Resolve a number-based origin to its canonical hash first; an origin
	// number without a canonical block yields an empty reply.
	origin := query.Origin
	if !origin.IsHash() {
		hash, err := h.client.BlockHash(origin.Number)
		if err != nil || hash == (common.Hash{}) {
			return nil
		}
		origin = HashOrNumber{Hash: hash}
	}
	var (
		headers BlockHeadersPacket
		bytes   common.StorageSize
	)
	for uint64(len(headers)) < query.Amount && len(headers) < maxHeadersServe {
		header, err := h.client.HeaderByHashOrNumber(origin)
		if err != nil || header == nil {
			break
		}
		headers = append(headers, header)
		if enc, err := rlp.EncodeToBytes(header); err == nil {
			bytes += common.StorageSize(len(enc))
		}
		if bytes > softResponseLimit {
			break
		}
		// Advance to the next header of the query
		number := header.Number.Uint64()
		switch {
		case !query.Reverse:
			// Number based traversal towards the leaf block
			next := number + query.Skip + 1
			if next <= number {
				log.Debug("GetBlockHeaders skip overflow", "current", number, "skip", query.Skip, "peer", peer)
				return headers
			}
			origin = HashOrNumber{Number: next}

		case query.Skip == 0:
			// Hash based traversal towards the genesis block. Following the
			// parent hashes keeps the walk correct across reorgs and for
			// blocks whose number is not known up front.
			if header.ParentHash == (common.Hash{}) {
				return headers
			}
			origin = HashOrNumber{Hash: header.ParentHash}

		default:
			// Number based traversal towards the genesis block
			if number <= query.Skip {
				return headers
			}
			origin = HashOrNumber{Number: number - query.Skip - 1}
		}
	}
	return headers
}

// answerGetBlockBodies collects the requested block bodies, in request order,
// stopping at the first unknown block.
func (h *EthRequestHandler) answerGetBlockBodies(query GetBlockBodiesPacket) BlockBodiesPacket {
	var (
		bodies BlockBodiesPacket
		bytes  int
	)
	for _, hash := range query {
		if len(bodies) >= maxBodiesServe {
			break
		}
		block, err := h.client.BlockByHash(hash)
		if err != nil || block == nil {
			break
		}
		body := block.Body()
		bodies = append(bodies, body)
		if enc, err := rlp.EncodeToBytes(body); err == nil {
			bytes += len(enc)
		}
		if bytes > softResponseLimit {
			break
		}
	}
	return bodies
}

// answerGetReceipts collects the requested per-block receipt lists, stopping
// at the first unknown block.
func (h *EthRequestHandler) answerGetReceipts(query GetReceiptsPacket) ReceiptsPacket {
	var (
		receipts ReceiptsPacket
		bytes    int
	)
	for _, hash := range query {
		if len(receipts) >= maxReceiptsServe {
			break
		}
		results, err := h.client.ReceiptsByBlock(HashOrNumber{Hash: hash})
		if err != nil || results == nil {
			break
		}
		receipts = append(receipts, results)
		if enc, err := rlp.EncodeToBytes(results); err == nil {
			bytes += len(enc)
		}
		if bytes > softResponseLimit {
			break
		}
	}
	return receipts
}

// answerGetReceipts69 is the bloomless variant of answerGetReceipts. The
// lookups are identical, only the wire projection of the results differs.
func (h *EthRequestHandler) answerGetReceipts69(query GetReceiptsPacket) Receipts69Packet {
	var (
		receipts Receipts69Packet
		bytes    int
	)
	for _, hash := range query {
		if len(receipts) >= maxReceiptsServe {
			break
		}
		results, err := h.client.ReceiptsByBlock(HashOrNumber{Hash: hash})
		if err != nil || results == nil {
			break
		}
		list := ReceiptList69(results)
		receipts = append(receipts, list)
		if enc, err := rlp.EncodeToBytes(list); err == nil {
			bytes += len(enc)
		}
		if bytes > softResponseLimit {
			break
		}
	}
	return receipts
}
