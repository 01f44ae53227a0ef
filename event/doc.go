// Package event defines the asynchronous events the deckbridge engines
// emit toward the presentation layer, and the bounded bus that carries
// them.
//
// The core has no notion of a UI thread. Engines publish into a Bus and
// the presentation layer drains Events() on its own schedule. Publishing
// never blocks: when a slow consumer lets the buffer fill, the oldest
// event is dropped and the drop is logged.
//
// Events from a single component are delivered in the order they were
// generated. Across components there is no ordering guarantee.
package event
