// Package messaging keeps the dispatcher/driver chat history.
//
// Messages arrive as chat_message frames, are fetched from the REST history
// endpoint, or are composed locally. All three sources are merged per driver
// by Merge and persisted through a state.KV together with unread counters.
package messaging
