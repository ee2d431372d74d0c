// Package registry maintains an eventually-consistent view of backend
// health, independent of live traffic.
//
// Each registered backend gets a health record driven by periodic polls
// of its health endpoint. A decaying error score maps onto a status
// bucket (unknown, healthy, degraded, unhealthy, down); transitions are
// logged when the bucket changes. The registry is advisory only: the
// dispatcher never consults it to gate requests.
package registry
