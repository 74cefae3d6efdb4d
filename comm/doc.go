// Package comm provides the per-agent communication façade.
//
// # Overview
//
// A Communicator wraps the shared message queue for one agent: typed
// send helpers, a handler registry keyed by message type, and a single
// background consumer loop. Collaborating agents never touch queue keys
// directly; they construct a Communicator and work in terms of message
// types.
//
// # Consumer Model
//
// Each Communicator runs at most one consumer goroutine. Handlers
// execute synchronously inside that goroutine, one message at a time,
// in pop order. A slow handler delays every later message for the same
// agent; run separate agent ids if that matters. A handler panic or
// error is logged and the loop moves on, so one bad message cannot stop
// background processing.
//
// Stopping is cooperative. The loop checks its stop signal between
// receives, and each receive blocks for at most the poll timeout, so
// StopListening returns within roughly one poll interval.
package comm
