// Package payload implements the payload builder service: a background task
// that owns concurrent block-construction jobs on behalf of a consensus
// client, drives them to produce progressively better payloads and exposes
// query, resolve and subscription operations to clients.
package payload

import (
	"math/big"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// PayloadKind selects how eagerly a resolve finalizes its payload.
type PayloadKind int

const (
	// PayloadKindEarliest resolves to the best payload available right away.
	PayloadKindEarliest PayloadKind = iota

	// PayloadKindWaitForPending waits for an in-progress build to land before
	// resolving.
	PayloadKindWaitForPending
)

// PayloadAttributes describes a payload to be built. The attributes are opaque
// to the service except that they determine the payload identifier and name a
// parent block for logging.
type PayloadAttributes interface {
	// PayloadID returns the deterministic identifier derived from the
	// attributes. Equal attributes yield equal identifiers.
	PayloadID() engine.PayloadID

	// Parent returns the hash of the block the payload builds on.
	Parent() common.Hash
}

// BuiltPayload is a fully assembled candidate block as handed to clients.
type BuiltPayload interface {
	// BlockNumber returns the number of the built block.
	BlockNumber() uint64

	// Fees returns the total transaction fees collected by the payload.
	Fees() *big.Int
}

// ResolveResult is the outcome of finalizing a payload.
type ResolveResult struct {
	Payload BuiltPayload
	Err     error
}

// PayloadFuture yields exactly one resolve result. Closing the channel without
// sending aborts the resolve.
type PayloadFuture <-chan ResolveResult

// ChainHeadEvent signals that the canonical head of the chain changed.
type ChainHeadEvent struct {
	Header *types.Header
}

// ChainEventSource is the canonical chain event stream the service subscribes
// to at construction.
type ChainEventSource interface {
	SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription
}
