// Package jobs decides when recurring background work is allowed to run.
//
// # Components
//
// The package is made of a producer and a consumer joined by an in-memory
// queue:
//
//   - Scheduler: a heartbeat loop (2s) that reads the persisted schedule table,
//     works out which job types (and, for parameterized types, which entity
//     instances) are due, and enqueues them.
//   - Queue: a deduplicating FIFO keyed by job ID.
//   - Processor: a single-flight loop that takes the queue head, verifies its
//     dependencies and market timing, and executes it under a timeout.
//
// Job types are registered once at startup in a Registry, which maps the type
// name to a factory and a RetryConfig. Schedules are data: enabling a job,
// changing its interval or its dependency list only requires a row update.
//
// # Market Timing
//
//   - AnyTime: runs regardless of market state
//   - DuringMarketOpen: runs only while a market is open (the subject's market
//     for per-security jobs)
//   - AfterMarketClose: runs only while that market is closed
//   - AllMarketsClosed: runs only when every market is closed (maintenance window)
//
// # Single-flight
//
// The scheduler never enqueues an ID that is already queued and the queue
// rejects duplicates, so at most one instance of a job ID is queued or
// executing at any time. Execution is serial: downstream collaborators (broker
// connection, shared caches) are not safe under concurrent jobs.
package jobs
