// Package jobs defines the transcription job model and its SQLite-backed
// store. The store doubles as the work queue: workers claim queued rows with
// a conditional update, which guarantees at most one active run per job.
package jobs
