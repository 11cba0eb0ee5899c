package metrics

// Rate limiter metrics
const (
	RateLimitChecksTotal   = "ratelimit_checks_total"
	RateLimitTrackedKeys   = "ratelimit_tracked_keys"
	DenialsRecordedTotal   = "ratelimit_denials_recorded_total"
	DenialsPrunedLast      = "ratelimit_denials_pruned_last"
	DecisionAllowed        = "allowed"
	DecisionDenied         = "denied"
	DenialStatusStored     = "stored"
	DenialStatusDropped    = "dropped"
	DenialStatusWriteError = "error"
)

// RecordRateLimitCheck counts one limiter decision for bucket.
func RecordRateLimitCheck(bucket string, allowed bool) {
	decision := DecisionAllowed
	if !allowed {
		decision = DecisionDenied
	}
	count(RateLimitChecksTotal, labels{"bucket": bucket, "decision": decision})
}

// SetTrackedKeys reports how many client keys a bucket currently holds.
func SetTrackedKeys(bucket string, keys int) {
	gauge(RateLimitTrackedKeys, float64(keys), labels{"bucket": bucket})
}

// RecordDenialRecorded counts what happened to a denial handed to the audit log.
func RecordDenialRecorded(bucket, status string) {
	count(DenialsRecordedTotal, labels{"bucket": bucket, "status": status})
}

// SetDenialsPruned reports how many audit rows the last retention pass removed.
func SetDenialsPruned(pruned int64) {
	gauge(DenialsPrunedLast, float64(pruned), nil)
}
