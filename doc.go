// Package orbit provides an in-process telemetry recorder. It captures
// discrete operational events produced inside a running application, such as
// inbound requests, database queries, log records, cache operations, outbound
// calls, and so on, as immutable [Entry] values.
//
// Entries produced during one logical unit of work, typically one inbound
// request, are correlated by a shared family hash. The family hash lives in a
// [Scope], which is created by [Begin] and carried by the context. Code running
// with that context, including goroutines it spawns, sees the same scope. Code
// running with an unrelated context never does.
//
// Each category of event is represented by an [Operation] type, e.g.
// [QueryOp] or [CacheOp]. Instrumentation points construct an operation when
// the observed work completes and pass it to [Recorder.Observe] or
// [Recorder.ObserveTimed]. The recorder applies the configured toggles and
// exclusions, attaches the family hash, and appends the entry to a [Store].
// Capture never fails loudly: problems are counted and reported to a
// diagnostic logger, and never reach the instrumented code.
//
// Query operations within a scope are checked for duplicates: identical query
// signatures seen more than once in the same scope are flagged. Aggregate
// duplicate statistics for a request are available via
// [Recorder.DuplicateStatsFor].
//
// The store retains a bounded number of entries, evicting the oldest first.
// Older entries can also be pruned explicitly, optionally keeping important
// entries like exceptions and error logs.
//
// Recorded entries can be searched via [Recorder.Search], and are exposed
// over HTTP by package [github.com/astro-stack/orbit/orbithttp].
package orbit
