// Package task runs sample paper extraction in the background.
//
// The Orchestrator accepts submissions, deduplicates them by input
// fingerprint and hands task ids to a bounded queue. The Runner feeds that
// queue into a worker pool, recovers unfinished tasks on startup and fails
// tasks that stay in processing for too long. A task moves strictly through
// pending, processing and then completed or failed.
package task
