// Package api exposes the swarm coordinator over HTTP. The routes, query
// parameters and response envelopes stay compatible with the turtle clients
// in the field: every reply is HTTP 200 carrying either a "success" or an
// "error" member, plus a machine-readable "code" on errors.
package api
