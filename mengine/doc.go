// Package mengine contains the consensus engine for one logical validator:
// the round state machine (core), the block proposer, the ancestor
// synchronizer, the sync-request helper, and the mempool driver,
// wired together by [Engine].
//
// Each component runs as one long-lived goroutine owning its state,
// communicating over bounded channels. A full channel applies
// backpressure to the sender; nothing aborts on saturation.
package mengine
