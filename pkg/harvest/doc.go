// Package harvest drives a run over an id range: a producer hands ids to a
// fixed pool of workers, each worker fetches one item and appends it to the
// sink, and dispatching stops once the sink holds the target count.
//
// Example usage:
//
//	h := harvest.New(fetchClient, csvStore, harvest.Config{
//		Start: 1, End: 1000, Target: 1000, Workers: 10,
//	})
//	summary, err := h.Run(ctx)
//
// The harvester:
//   - Skips ids the sink already holds (resume)
//   - Stops dispatching at the target and lets in-flight fetches finish
//   - Counts late successes rejected by the sink as discarded
//   - Aborts the run on the first storage failure
//   - Logs progress every ProgressEvery persisted items
package harvest
