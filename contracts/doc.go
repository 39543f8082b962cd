// Package contracts defines the wire types exchanged by the gateway.
//
// Producers submit an Envelope over HTTP:
//
//	{"operationId": "requestAppUsers", "message": {"usernames": ["a", "b"]}}
//
// Accepted envelopes are forwarded to the broker as an OutboundMessage,
// which carries every member of the inbound envelope unchanged plus a
// server-assigned "date". Replies to the HTTP caller are either a
// MessageReply or an ErrorReply holding one of the fixed reason strings
// declared in this package.
package contracts
