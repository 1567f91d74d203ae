// Package health holds the liveness and readiness probes served on the
// ops listener.
//
// Probes compose with [All]. [ShutdownGate] fails readiness as
// soon as shutdown begins so load balancers stop routing before the
// public listener closes. [Ping] wraps a database handle.
package health
