// Package outbox implements the outbound message queue used while no
// transport is live.
//
// The queue is a fixed-capacity ring. When it is full, Push evicts the oldest
// entry so that the most recent intent survives a long disconnect; every
// eviction is counted. Drain returns entries in insertion order.
package outbox
