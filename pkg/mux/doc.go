// Package mux tracks per-connection stream state and flow-control credit
// for the multiplexed protocols.
//
// State is observed, not enforced: frames sent after a stream half-closes
// still go out, and the state machine records what the peer should now
// believe.
package mux
