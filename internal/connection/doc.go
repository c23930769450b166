// Package connection implements the upstream session connector.
//
// A Connector owns one authenticated WebSocket session to the broker:
//   - Dials the endpoint and sends the authorize handshake when a credential is present
//   - Tracks tick subscriptions (symbol -> correlation id) and replays them after a reconnect
//   - Retries lost transports with exponential backoff, then gives up in Exhausted
//   - Normalizes inbound frames into typed events on a bounded queue
package connection
