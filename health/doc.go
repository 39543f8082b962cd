// Package health builds the gateway health report: broker connection,
// publish circuit, destination readiness and runtime checks run
// concurrently and fold into one status, the worst of them. A check that
// does not finish before the request deadline counts as unhealthy.
package health
