// Package hub fans dashboard events out to observer subscribers.
//
// Every subscriber first receives a "markets" snapshot, then incremental
// events in publish order. Sends never block: a full or closed subscriber
// loses the event.
package hub
