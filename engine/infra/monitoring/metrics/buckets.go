package metrics

// StageDurationBuckets covers long-running pipeline stages such as a full ingestion run.
var StageDurationBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// QueryDurationBuckets covers interactive request latencies.
var QueryDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}
