// Package admin exposes the operator surface of the gateway: read-only
// queries over registry health and circuit state, and manual overrides
// for polls, error scores, and circuit resets.
package admin
