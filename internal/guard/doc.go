// Package guard protects recent optimistic local mutations from stale
// server snapshots.
//
// A bin marked collected keeps its locally reset fill level for the bin
// window (sensor reporting interval plus a grace period). A route marked
// completed stays completed for the route window. Marks expire lazily on
// every Apply.
//
// When the server reports a per-entity version at least as new as the one
// recorded with the mark, the server has observed the local write: the
// snapshot value wins and the mark is cleared regardless of age.
package guard
