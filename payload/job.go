package payload

// PayloadJob is a single in-progress block-construction task. The service
// drives it cooperatively: Poll is invoked once per service wake-up and must
// not block. A job keeps refining its payload until it finishes, fails, or is
// terminated through Resolve.
type PayloadJob interface {
	// Poll advances the job. It reports done once the job has finished
	// building and will not improve further; a non-nil error terminates the
	// job. Poll must return quickly and never block.
	Poll() (done bool, err error)

	// BestPayload returns the best payload built so far without affecting the
	// job.
	BestPayload() (BuiltPayload, error)

	// PayloadAttributes returns the attributes the job was started with.
	PayloadAttributes() (PayloadAttributes, error)

	// Resolve finalizes the payload with the given eagerness and returns a
	// future for the result. The keepAlive verdict reports whether the job can
	// still improve afterwards; if false, the service drops the job.
	Resolve(kind PayloadKind) (fut PayloadFuture, keepAlive bool)
}

// PayloadJobGenerator knows how to start new payload jobs and is kept informed
// about canonical chain changes.
type PayloadJobGenerator interface {
	// NewPayloadJob creates a job building a payload for the given attributes.
	NewPayloadJob(attrs PayloadAttributes) (PayloadJob, error)

	// OnNewState is invoked for every canonical chain notification, before any
	// job creation triggered by the same wake-up. It must not block.
	OnNewState(ev ChainHeadEvent)
}
