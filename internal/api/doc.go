// Package api exposes the external REST surface for driving trace sessions:
// creation, evolution steps, fan-out merges, sub-traces, sealing, state
// export/import, and path/seal verification, plus the metrics endpoint.
package api
