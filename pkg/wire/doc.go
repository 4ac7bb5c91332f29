// Package wire implements the NATS client text protocol.
//
// Client operations (CONNECT, PUB, SUB, UNSUB, PING, PONG) are encoded by the
// Append* helpers into caller-owned buffers so the connection write path can
// batch them without intermediate allocations. Server operations (INFO, MSG,
// PING, PONG, +OK, -ERR) are decoded by Parser, one Frame per call.
//
// # Control lines
//
// Every operation is a single CRLF-terminated control line. MSG and PUB are
// followed by exactly the announced number of payload bytes and a CRLF:
//
//	PUB <subject> [reply] <size>\r\n<payload>\r\n
//	MSG <subject> <sid> [reply] <size>\r\n<payload>\r\n
//
// INFO and CONNECT carry a JSON object after the operation name.
package wire
