// Package session is the registry of upstream broker sessions.
//
// A Multiplexer owns one connection.Connector per client id. Commands from
// the HTTP layer are routed to the right Connector; events coming back are
// consumed per session, in order, and turned into store writes and hub
// broadcasts.
package session
