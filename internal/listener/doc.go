// Package listener serves the current PIP to local clients over a Unix
// domain stream socket.
//
// Each connection carries one request line and receives one response:
//
//	request  = [ "position" ] [ "json" | "msgpack" ] LF
//	response = {"status":"ok","provider":{...}}
//	         | {"status":"unavailable","resolved_at":"..."}
//	         | {"status":"error","error":"..."}
//
// An empty line, or closing the write side without sending anything, means
// "position json". JSON responses are a single newline-terminated line;
// msgpack responses are a single document. The server closes the connection
// after the response.
//
// A bad request or an I/O error only affects its own connection. Failing to
// bind, or the accept loop failing for any reason other than shutdown,
// is reported as ErrAcceptFailed.
package listener
