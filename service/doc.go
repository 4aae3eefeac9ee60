// Package service orchestrates the core components of the sequencer —
// mempool, matching engine, state, and the match publication pipeline.
//
// It is the only write entry point into the system, decoupled from network
// transports like HTTP.
package service
