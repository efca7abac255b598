// Package pipeline is the fine-grained import engine: producers walk source trees into
// per-consumer queues and each Consumer maps nodes through a Batch, committing when it
// fills and replaying node by node when a shared unit-of-work had to be rolled back.
package pipeline
