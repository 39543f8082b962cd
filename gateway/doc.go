// Package gateway accepts operation envelopes over HTTP and forwards the
// ones that pass validation to the message broker.
//
// A Dispatcher runs the checks of a single request in a fixed order:
// API key, non-empty body, JSON object, operationId, route whitelist,
// message, operation rule. The first failing check ends the request with
// a *Rejection. Accepted messages are stamped with the acceptance date and
// handed to a Publisher.
//
// Server mounts one POST endpoint per route of a routing.Table under
// /{version}/messages, plus a GET check endpoint and an optional health
// endpoint:
//
//	d, _ := gateway.NewDispatcher(apiKey, schema.DefaultRegistry(), publisher)
//	srv := gateway.NewServer(d, routing.DefaultTable())
//	err := srv.Run(ctx, ":8000", 10*time.Second)
//
// Publishing is fire-and-forget unless the Publisher waits for broker
// confirms; the dispatcher only sees errors returned synchronously.
package gateway
