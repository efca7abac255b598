// Package ix holds the contracts and shared state of the bulk import engines.
//
// A source tree of Nodes is written into a Repository through units of work.
// Two engines drive the writes:
//
//   - ix/fork walks a tree inside a fixed worker pool and forks new tasks for
//     large sub-trees as it discovers them.
//   - ix/pipeline feeds nodes through bounded queues into long-lived consumers
//     that commit in batches and replay failed batches node by node.
//
// Both engines share Batch, ImportStat, JobContext and Throughput from this
// package. Mapping a node to a Document is delegated to a Factory; any error it
// returns is a single-node failure (MappingError) and never stops a worker.
package ix
