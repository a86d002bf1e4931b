package core

import (
	"strconv"
	"time"
)

// DefaultScanBucket is the scan window used when a job type does not
// configure its own.
const DefaultScanBucket = 6 * time.Hour

// BucketStart returns the inclusive start of the scan window containing ts.
// Windows are aligned to UTC so every scanner instance quantizes the same
// instant to the same bucket.
func BucketStart(ts time.Time, bucket time.Duration) time.Time {
	if bucket <= 0 {
		bucket = DefaultScanBucket
	}
	return ts.UTC().Truncate(bucket)
}

// ScanDedupKey builds the idempotency key for a scanner enqueue:
// {tenant_id}:{job_type}:{bucket_start_unix}. Two scanners observing the
// same window produce the same key, so the second insert resolves to the
// first job.
func ScanDedupKey(tenantID, jobType string, ts time.Time, bucket time.Duration) string {
	return tenantID + ":" + jobType + ":" + strconv.FormatInt(BucketStart(ts, bucket).Unix(), 10)
}

// AdhocDedupKey builds the key stored for an enqueue that did not supply
// one. Keyed by job ID, it never collides, so ad-hoc enqueues are not
// deduplicated.
func AdhocDedupKey(jobID string) string {
	return "adhoc:" + jobID
}
