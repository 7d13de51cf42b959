package payload

import (
	"context"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

const (
	// chainHeadChanSize is the size of channel listening to ChainHeadEvent.
	chainHeadChanSize = 10

	// commandQueueSize is the depth of the client command channel. Commands
	// beyond it briefly block the sender while the service finishes its
	// current pass; FIFO order across clients is preserved either way.
	commandQueueSize = 64

	// jobRecheckInterval drives job progress between external wake-ups.
	jobRecheckInterval = 50 * time.Millisecond
)

// serviceCommand is a client request delivered over the command channel.
type serviceCommand interface {
	serviceCommand()
}

type newPayloadCmd struct {
	attrs PayloadAttributes
	resp  chan newPayloadReply
}

type newPayloadReply struct {
	id  engine.PayloadID
	err error
}

type bestPayloadCmd struct {
	id   engine.PayloadID
	resp chan payloadReply
}

type payloadReply struct {
	known   bool
	payload BuiltPayload
	err     error
}

type payloadAttributesCmd struct {
	id   engine.PayloadID
	resp chan attributesReply
}

type attributesReply struct {
	known bool
	attrs PayloadAttributes
	err   error
}

type resolveCmd struct {
	id   engine.PayloadID
	kind PayloadKind
	resp chan resolveReply
}

type resolveReply struct {
	known bool
	fut   PayloadFuture
}

type subscribeCmd struct {
	resp chan *PayloadEvents
}

func (*newPayloadCmd) serviceCommand()        {}
func (*bestPayloadCmd) serviceCommand()       {}
func (*payloadAttributesCmd) serviceCommand() {}
func (*resolveCmd) serviceCommand()           {}
func (*subscribeCmd) serviceCommand()         {}

// activeJob pairs a running job with its payload identifier.
type activeJob struct {
	job PayloadJob
	id  engine.PayloadID
}

// PayloadBuilderService owns the set of active payload jobs. It is a single
// cooperative task: all job state is mutated exclusively by the Run loop, and
// clients talk to it through a PayloadBuilderHandle.
type PayloadBuilderService struct {
	generator PayloadJobGenerator

	// All active payload jobs. At most one job per payload id.
	jobs []activeJob

	commands chan serviceCommand
	queued   []serviceCommand

	chainEvents chan ChainHeadEvent
	chainSub    event.Subscription
	subErr      <-chan error

	// resolved funnels successfully finalized payloads back from the resolve
	// wrapper goroutines into the loop, which broadcasts them.
	resolved chan BuiltPayload

	subscribers []*PayloadEvents

	recheckInterval time.Duration
	done            chan struct{}
}

// NewPayloadBuilderService creates the service and a handle connected to it.
// The service subscribes to the chain event source immediately; Run must be
// spawned for anything to make progress.
func NewPayloadBuilderService(generator PayloadJobGenerator, chain ChainEventSource) (*PayloadBuilderService, *PayloadBuilderHandle) {
	s := &PayloadBuilderService{
		generator:       generator,
		commands:        make(chan serviceCommand, commandQueueSize),
		chainEvents:     make(chan ChainHeadEvent, chainHeadChanSize),
		resolved:        make(chan BuiltPayload, commandQueueSize),
		recheckInterval: jobRecheckInterval,
		done:            make(chan struct{}),
	}
	s.chainSub = chain.SubscribeChainHeadEvent(s.chainEvents)
	s.subErr = s.chainSub.Err()

	handle := &PayloadBuilderHandle{commands: s.commands, done: s.done}
	return s, handle
}

// Run is the service loop. It terminates when the context is cancelled,
// dropping all active jobs and leaving pending replies unanswered; handle
// operations then fail with ErrServiceClosed.
func (s *PayloadBuilderService) Run(ctx context.Context) {
	defer close(s.done)
	defer s.chainSub.Unsubscribe()

	recheck := time.NewTicker(s.recheckInterval)
	defer recheck.Stop()

	for {
		// A full pass: canonical state first, then job progress, then client
		// commands. A command that created a job restarts the pass so the
		// newborn job is polled before the service parks again.
		s.drainChainEvents()
		s.drainResolved()
		s.advanceJobs()
		if s.processCommands() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case ev := <-s.chainEvents:
			s.generator.OnNewState(ev)
		case p := <-s.resolved:
			s.onResolved(p)
		case err := <-s.subErr:
			if err != nil {
				log.Warn("Chain event subscription failed", "err", err)
			}
			s.subErr = nil
		case cmd := <-s.commands:
			s.queued = append(s.queued, cmd)
		case <-recheck.C:
		}
	}
}

// drainChainEvents forwards every ready chain notification to the generator.
func (s *PayloadBuilderService) drainChainEvents() {
	for {
		select {
		case ev := <-s.chainEvents:
			s.generator.OnNewState(ev)
		default:
			return
		}
	}
}

// drainResolved broadcasts every payload whose resolve future completed.
func (s *PayloadBuilderService) drainResolved() {
	for {
		select {
		case p := <-s.resolved:
			s.onResolved(p)
		default:
			return
		}
	}
}

// advanceJobs polls every active job exactly once. Finished and failed jobs
// are swap-removed; the reverse iteration guarantees no entry is visited twice
// within one pass.
func (s *PayloadBuilderService) advanceJobs() {
	for i := len(s.jobs) - 1; i >= 0; i-- {
		entry := s.jobs[i]
		done, err := entry.job.Poll()
		switch {
		case err != nil:
			log.Warn("Payload builder job failed", "id", entry.id, "err", err)
			failedJobsCounter.Inc(1)
			s.removeJob(i)
		case done:
			log.Debug("Payload job finished", "id", entry.id)
			s.removeJob(i)
		}
	}
	activeJobsGauge.Update(int64(len(s.jobs)))
}

// removeJob swap-removes the job at the given index.
func (s *PayloadBuilderService) removeJob(i int) {
	last := len(s.jobs) - 1
	s.jobs[i] = s.jobs[last]
	s.jobs[last] = activeJob{}
	s.jobs = s.jobs[:last]
}

// jobIndex returns the index of the job with the given id, or -1.
func (s *PayloadBuilderService) jobIndex(id engine.PayloadID) int {
	return slices.IndexFunc(s.jobs, func(e activeJob) bool { return e.id == id })
}

// processCommands handles the stashed command from the last wake-up plus every
// command already queued on the channel. It reports whether any of them
// created a new job.
func (s *PayloadBuilderService) processCommands() (created bool) {
	for _, cmd := range s.queued {
		created = s.handleCommand(cmd) || created
	}
	s.queued = s.queued[:0]
	for {
		select {
		case cmd := <-s.commands:
			created = s.handleCommand(cmd) || created
		default:
			return created
		}
	}
}

func (s *PayloadBuilderService) handleCommand(cmd serviceCommand) (created bool) {
	switch c := cmd.(type) {
	case *newPayloadCmd:
		id, fresh, err := s.buildNewPayload(c.attrs)
		c.resp <- newPayloadReply{id: id, err: err}
		return fresh

	case *bestPayloadCmd:
		c.resp <- s.bestPayload(c.id)

	case *payloadAttributesCmd:
		c.resp <- s.payloadAttributes(c.id)

	case *resolveCmd:
		c.resp <- s.resolve(c.id, c.kind)

	case *subscribeCmd:
		sub := newPayloadEvents()
		s.subscribers = append(s.subscribers, sub)
		c.resp <- sub
	}
	return false
}

// buildNewPayload starts a job for the given attributes. Starting the same
// attributes twice is an idempotent success: the existing id is returned and
// no second job is created.
func (s *PayloadBuilderService) buildNewPayload(attrs PayloadAttributes) (id engine.PayloadID, fresh bool, err error) {
	id = attrs.PayloadID()
	if s.jobIndex(id) >= 0 {
		log.Debug("Payload job already in progress", "id", id)
		return id, false, nil
	}
	job, err := s.generator.NewPayloadJob(attrs)
	if err != nil {
		log.Warn("Failed to start payload job", "id", id, "parent", attrs.Parent(), "err", err)
		failedJobsCounter.Inc(1)
		return id, false, err
	}
	log.Info("New payload job created", "id", id, "parent", attrs.Parent())
	initiatedJobsCounter.Inc(1)
	s.jobs = append(s.jobs, activeJob{job: job, id: id})
	s.broadcast(AttributesEvent{Attributes: attrs})
	return id, true, nil
}

// bestPayload returns the target job's current best payload without touching
// the job's lifecycle.
func (s *PayloadBuilderService) bestPayload(id engine.PayloadID) payloadReply {
	i := s.jobIndex(id)
	if i < 0 {
		return payloadReply{}
	}
	payload, err := s.jobs[i].job.BestPayload()
	if err == nil && payload != nil {
		bestRevenueGauge.Update(feesToFloat(payload.Fees()))
	}
	return payloadReply{known: true, payload: payload, err: err}
}

// payloadAttributes returns the attributes the target job was started with.
func (s *PayloadBuilderService) payloadAttributes(id engine.PayloadID) attributesReply {
	i := s.jobIndex(id)
	if i < 0 {
		log.Trace("Payload attributes requested for unknown payload", "id", id)
		return attributesReply{}
	}
	attrs, err := s.jobs[i].job.PayloadAttributes()
	return attributesReply{known: true, attrs: attrs, err: err}
}

// resolve finalizes the target job's payload. If the job cannot improve any
// further it is dropped from the active set right away; either way the caller
// receives a future wrapped so that successful completion feeds the event
// broadcast and the revenue metric.
func (s *PayloadBuilderService) resolve(id engine.PayloadID, kind PayloadKind) resolveReply {
	i := s.jobIndex(id)
	if i < 0 {
		return resolveReply{}
	}
	fut, keepAlive := s.jobs[i].job.Resolve(kind)
	if keepAlive {
		log.Debug("Resolving payload job", "id", id)
	} else {
		log.Debug("Resolving payload job, terminating", "id", id)
		s.removeJob(i)
	}
	out := make(chan ResolveResult, 1)
	go s.awaitResolved(fut, out)
	return resolveReply{known: true, fut: out}
}

// awaitResolved relays a job's resolve future to the caller, notifying the
// service loop first so the built payload can be broadcast to subscribers.
func (s *PayloadBuilderService) awaitResolved(fut PayloadFuture, out chan<- ResolveResult) {
	var res ResolveResult
	select {
	case r, ok := <-fut:
		if !ok {
			r = ResolveResult{Err: ErrResolveAborted}
		}
		res = r
	case <-s.done:
		res = ResolveResult{Err: ErrServiceClosed}
	}
	if res.Err == nil && res.Payload != nil {
		select {
		case s.resolved <- res.Payload:
		case <-s.done:
		}
	}
	out <- res
	close(out)
}

// onResolved records a finalized payload and publishes it to subscribers.
func (s *PayloadBuilderService) onResolved(payload BuiltPayload) {
	resolvedRevenueGauge.Update(feesToFloat(payload.Fees()))
	log.Debug("Resolved payload delivered", "number", payload.BlockNumber(), "fees", payload.Fees())
	if len(s.subscribers) > 0 {
		s.broadcast(BuiltPayloadEvent{Payload: payload})
	}
}

// broadcast delivers an event to every live subscriber, pruning cancelled
// ones along the way.
func (s *PayloadBuilderService) broadcast(ev Event) {
	kept := s.subscribers[:0]
	for _, sub := range s.subscribers {
		select {
		case <-sub.done:
			close(sub.ch)
			continue
		default:
		}
		sub.deliver(ev)
		kept = append(kept, sub)
	}
	for i := len(kept); i < len(s.subscribers); i++ {
		s.subscribers[i] = nil
	}
	s.subscribers = kept
}

func feesToFloat(fees *big.Int) float64 {
	if fees == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(fees).Float64()
	return f
}

// PayloadBuilderHandle is the client side of the service's command channel.
// It is safe for concurrent use and may be shared freely.
type PayloadBuilderHandle struct {
	commands chan<- serviceCommand
	done     <-chan struct{}
}

// send enqueues a command, honoring caller cancellation and service shutdown.
func (h *PayloadBuilderHandle) send(ctx context.Context, cmd serviceCommand) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrServiceClosed
	}
}

// NewPayload asks the service to start building a payload for the given
// attributes and returns its id. Requesting attributes that are already being
// built is a success returning the existing id.
func (h *PayloadBuilderHandle) NewPayload(ctx context.Context, attrs PayloadAttributes) (engine.PayloadID, error) {
	cmd := &newPayloadCmd{attrs: attrs, resp: make(chan newPayloadReply, 1)}
	if err := h.send(ctx, cmd); err != nil {
		return engine.PayloadID{}, err
	}
	select {
	case r := <-cmd.resp:
		return r.id, r.err
	case <-ctx.Done():
		return engine.PayloadID{}, ctx.Err()
	case <-h.done:
		return engine.PayloadID{}, ErrServiceClosed
	}
}

// BestPayload returns the best payload built so far for the given id without
// resolving the job. Unknown ids yield ErrUnknownPayload.
func (h *PayloadBuilderHandle) BestPayload(ctx context.Context, id engine.PayloadID) (BuiltPayload, error) {
	cmd := &bestPayloadCmd{id: id, resp: make(chan payloadReply, 1)}
	if err := h.send(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.resp:
		if !r.known {
			return nil, ErrUnknownPayload
		}
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrServiceClosed
	}
}

// PayloadAttributes returns the attributes the job with the given id was
// started with. Unknown ids yield ErrUnknownPayload.
func (h *PayloadBuilderHandle) PayloadAttributes(ctx context.Context, id engine.PayloadID) (PayloadAttributes, error) {
	cmd := &payloadAttributesCmd{id: id, resp: make(chan attributesReply, 1)}
	if err := h.send(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.resp:
		if !r.known {
			return nil, ErrUnknownPayload
		}
		return r.attrs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrServiceClosed
	}
}

// Resolve finalizes the payload with the given id as early as possible and
// waits for the result.
func (h *PayloadBuilderHandle) Resolve(ctx context.Context, id engine.PayloadID) (BuiltPayload, error) {
	return h.ResolveKind(ctx, id, PayloadKindEarliest)
}

// ResolveKind finalizes the payload with the given id and eagerness and waits
// for the result. Unknown ids yield ErrUnknownPayload.
func (h *PayloadBuilderHandle) ResolveKind(ctx context.Context, id engine.PayloadID, kind PayloadKind) (BuiltPayload, error) {
	cmd := &resolveCmd{id: id, kind: kind, resp: make(chan resolveReply, 1)}
	if err := h.send(ctx, cmd); err != nil {
		return nil, err
	}
	var reply resolveReply
	select {
	case reply = <-cmd.resp:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrServiceClosed
	}
	if !reply.known {
		return nil, ErrUnknownPayload
	}
	select {
	case res, ok := <-reply.fut:
		if !ok {
			return nil, ErrResolveAborted
		}
		return res.Payload, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers a new subscription to payload lifecycle events.
func (h *PayloadBuilderHandle) Subscribe(ctx context.Context) (*PayloadEvents, error) {
	cmd := &subscribeCmd{resp: make(chan *PayloadEvents, 1)}
	if err := h.send(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case sub := <-cmd.resp:
		return sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrServiceClosed
	}
}

// PayloadStore exposes the retrieval-only surface of the payload builder, the
// way the engine API consumes it.
type PayloadStore struct {
	handle *PayloadBuilderHandle
}

// NewPayloadStore wraps a handle into a retrieval-only store.
func NewPayloadStore(handle *PayloadBuilderHandle) *PayloadStore {
	return &PayloadStore{handle: handle}
}

// Resolve finalizes the payload with the given id as early as possible.
func (s *PayloadStore) Resolve(ctx context.Context, id engine.PayloadID) (BuiltPayload, error) {
	return s.handle.Resolve(ctx, id)
}

// ResolveKind finalizes the payload with the given id and eagerness.
func (s *PayloadStore) ResolveKind(ctx context.Context, id engine.PayloadID, kind PayloadKind) (BuiltPayload, error) {
	return s.handle.ResolveKind(ctx, id, kind)
}

// BestPayload returns the best payload built so far for the given id.
func (s *PayloadStore) BestPayload(ctx context.Context, id engine.PayloadID) (BuiltPayload, error) {
	return s.handle.BestPayload(ctx, id)
}

// PayloadAttributes returns the attributes of the payload with the given id.
func (s *PayloadStore) PayloadAttributes(ctx context.Context, id engine.PayloadID) (PayloadAttributes, error) {
	return s.handle.PayloadAttributes(ctx, id)
}
