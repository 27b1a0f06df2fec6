// Package labelx orchestrates two-stage labeling runs on top of asynq while
// persisting each run's lifecycle in a relational state table.
//
// Quick start:
//  1. Open a *sql.DB, pick its Dialect and create NewSQLStore(db, ...).
//  2. Build a Validator around a PatternResolver (DirPatternResolver reads pattern files).
//  3. Create an AsynqPipeline and hand all three to NewOrchestrator. CreateTask
//     validates, ensures the state table, submits the label -> generate chain
//     and records the initial state row.
//  4. Run a Processor with a Labeler and a Generator on the worker side; it
//     moves the state row through STARTED/RETRY/SUCCESS/FAILURE and only
//     enqueues the generate stage after the label stage succeeded.
//  5. Poll with StatusService and read samples with ResultQueryBuilder once
//     stage 2 reports SUCCESS.
package labelx
