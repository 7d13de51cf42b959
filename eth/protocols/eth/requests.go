package eth

import (
	"github.com/ethereum/go-ethereum/p2p/enode"
)

// IncomingEthRequest is a peer request forwarded by the network layer to the
// request handler.
//
// Every envelope carries a one-shot reply channel. The channel must be created
// with a buffer of at least one element so that replying never blocks the
// handler; the handler sends at most one response and then closes the channel.
// A channel that is closed without a value means the request was not served.
type IncomingEthRequest interface {
	ethRequest()
}

// GetBlockHeadersRequest asks for a batch of headers described by the query.
type GetBlockHeadersRequest struct {
	Peer     enode.ID
	Query    *GetBlockHeadersPacket
	Response chan<- BlockHeadersPacket
}

// GetBlockBodiesRequest asks for the bodies of the referenced blocks.
type GetBlockBodiesRequest struct {
	Peer     enode.ID
	Query    GetBlockBodiesPacket
	Response chan<- BlockBodiesPacket
}

// GetNodeDataRequest asks for trie nodes by hash. Serving state data is not
// supported; the handler closes the reply channel without a response.
type GetNodeDataRequest struct {
	Peer     enode.ID
	Query    GetNodeDataPacket
	Response chan<- NodeDataPacket
}

// GetReceiptsRequest asks for the receipts of the referenced blocks, with the
// per-receipt logs bloom attached on the wire.
type GetReceiptsRequest struct {
	Peer     enode.ID
	Query    GetReceiptsPacket
	Response chan<- ReceiptsPacket
}

// GetReceipts69Request asks for the receipts of the referenced blocks in the
// bloomless encoding.
type GetReceipts69Request struct {
	Peer     enode.ID
	Query    GetReceiptsPacket
	Response chan<- Receipts69Packet
}

func (*GetBlockHeadersRequest) ethRequest() {}
func (*GetBlockBodiesRequest) ethRequest()  {}
func (*GetNodeDataRequest) ethRequest()     {}
func (*GetReceiptsRequest) ethRequest()     {}
func (*GetReceipts69Request) ethRequest()   {}
