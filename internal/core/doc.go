// Package core provides the data-binding and batch-generation engine for mail merge.
//
// This package holds all domain logic independent of any UI, renderer or
// transport layer. Web handlers, the CLI and tests drive it through [Service]
// or use the individual building blocks directly.
//
// # Architecture
//
// The package is organized leaves first:
//
//   - Inference: [InferFieldType] classifies a column's sample values.
//   - Filtering: [FilterChain] folds an ordered, pairwise AND/OR connected
//     predicate chain over a record.
//   - Sorting: [SortRecords] is a stable multi-key sort driven by key priority.
//   - Rules: [RuleEngine] evaluates show/hide rules whose conditions are
//     reduced with a single operator per rule.
//   - Filenames: [ExpandFilename] and [OutputFilename] expand per-record patterns.
//   - Pipeline: [Pipeline] renders one artifact per record and reports
//     progress through a [Run] handle with pause, resume and cancel.
//
// Filters and conditional rules both use AND/OR, but with different
// semantics. A filter's logic operator connects it to the next filter and
// the chain is folded left to right:
//
//	[A AND, B OR, C]  =>  (A && B) || C
//
// A rule's logic operator applies to all of its conditions at once.
//
// # Generation
//
// A run works on an immutable [Template] snapshot. Each record produces a
// [PatchSet] (text substitution, visibility, resolved images) that is applied
// to a fresh copy of the snapshot before it is loaded into the [Surface]:
//
//  1. Client calls [Service.StartGeneration] with a [GenerationConfig]
//  2. Records are selected, filtered and sorted into a [Job]
//  3. The run goroutine renders each record and adds the output to a [Bundle]
//  4. Progress is broadcast to subscribers via [Run.Subscribe]
//  5. On completion the bundle is handed to the [ExportSink]
//
// # Error Handling
//
// Per-record failures are wrapped in [RecordError], counted and never stop a
// run. Failures outside a record boundary are [PipelineError] and end the run
// with status error. Technical errors are mapped to user-facing messages with
// support codes by [MapError].
package core
