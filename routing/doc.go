// Package routing maps inbound route names to broker destinations.
//
// Every route owns exactly one destination, either a queue or a topic,
// and a whitelist of operation ids. A request whose operation id is not
// on the whitelist is rejected before its message is validated, even if
// the id is valid on another route.
package routing
