// Package dispatcher implements the gateway's request path: resolve the
// backend by longest-prefix route match, guard the call with the circuit
// breaker, proxy it with a bounded timeout, and report the outcome.
//
// Success and failure are judged by the live call alone (status < 500 is
// success); the registry's background health view is never consulted to
// gate a request, so the two subsystems may legitimately disagree.
package dispatcher
