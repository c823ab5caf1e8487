package replicate

// Decision is the immutable terminal outcome of one replication job.
// Every job ends in exactly one of these.
type Decision string

const (
	// DecisionExists - the target probe succeeded; the object is never overwritten.
	DecisionExists Decision = "exists"
	// DecisionWouldCopy - the job is copyable but the run is in dry-run mode.
	DecisionWouldCopy Decision = "would_copy"
	// DecisionCopied - the transfer completed and the post-copy probe succeeded.
	DecisionCopied Decision = "copied"
	// DecisionFailed - transfer retries were exhausted or post-copy verification failed.
	DecisionFailed Decision = "failed"
	// DecisionMultiSource - more than one declared source; ambiguous, never guessed.
	DecisionMultiSource Decision = "multi_source"
	// DecisionTargetListedButMissing - the inventory lists the target but the live probe disagrees.
	DecisionTargetListedButMissing Decision = "target_listed_but_missing"
	// DecisionNotInSources - the single declared source is not allow-listed.
	DecisionNotInSources Decision = "not_in_sources"
	// DecisionNotFoundOnSource - the source probe failed for the single declared source.
	DecisionNotFoundOnSource Decision = "not_found_on_source"
	// DecisionInvalidFormat - the input row violates the path or node-list grammar.
	DecisionInvalidFormat Decision = "invalid_format"
)
