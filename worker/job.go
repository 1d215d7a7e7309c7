package worker

// Job is one unit of work for the pool.
type Job struct {
	// ID correlates the result with the submission.
	ID string

	// Payload is the raw request body (a signed document or a FHIR
	// resource, depending on the processor).
	Payload []byte

	// Profiles optionally names profile URLs to validate against.
	Profiles []string
}

// Outcome is what a processor produces; the pool only needs the
// failure predicate for its counters.
type Outcome interface {
	Failed() bool
}

// JobResult pairs a job with its outcome.
type JobResult struct {
	ID       string
	Outcome  Outcome
	Err      error
	Duration int64 // nanoseconds
}

// BatchResult aggregates the results of one batch.
type BatchResult struct {
	Results       []*JobResult
	TotalJobs     int
	CompletedJobs int
	FailedJobs    int
	TotalDuration int64
}

// HasFailures reports whether any job errored or produced a failed
// outcome.
func (br *BatchResult) HasFailures() bool {
	for _, r := range br.Results {
		if r.Err != nil {
			return true
		}
		if r.Outcome != nil && r.Outcome.Failed() {
			return true
		}
	}
	return false
}
