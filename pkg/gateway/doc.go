// Package gateway is the WebSocket transport and the top-level wiring.
//
// Each connection binds to one session for its lifetime. Inbound frames
// are router messages; the connection's session id overrides whatever
// the frame claims, so a client can never act on another session.
// Outbound frames are typed: a hello frame on connect, response frames
// for dispatched messages, and event frames carrying the session's
// ordered stream.
//
// Reconnecting with the same session_id re-attaches the event stream.
// Events buffered while disconnected flush first, in order; the hello
// frame's sequence number tells the client where the stream stands.
//
// App builds the whole server from configuration. Server is just the
// transport and can be constructed alone for tests.
package gateway
