// Package secureclient sends a caller-built raw request over a fresh TLS
// session and collects the reply into a securebuf.Buffer instead of a string.
//
// A call runs five phases in order on a connection it owns exclusively:
// connect, trust evaluation during the handshake, negotiation, transmission,
// and byte-at-a-time accumulation. The session is closed on every exit path
// and the accumulator wipes its scratch byte before the buffer is sealed.
//
// A read that stalls past the read timeout ends the response the same way a
// clean close does unless WithStrictReadTimeout is set.
package secureclient
