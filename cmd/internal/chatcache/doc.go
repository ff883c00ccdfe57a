// Package chatcache is the session-scoped conversation cache behind the dashboard chat.
//
// It serves cached history on revisit, merges push-delivered messages without duplicates,
// keeps at most one listener and at most one in-flight history fetch per conversation,
// and bounds memory with least-recently-accessed eviction.
//
// Components:
//   - Store: per-conversation state (history, channel handle, status, last access).
//   - Subscriptions: the single-listener registry that routes push events into the Store.
//   - Coordinator: the activation state machine with single-flight fetches.
//   - Eviction: capacity enforcement that never evicts the visible conversation.
//   - Service: the facade handed to the UI layer; one instance per logged-in session.
//
// The package depends only on the Transport/Channel interfaces, never on a concrete SDK.
package chatcache
