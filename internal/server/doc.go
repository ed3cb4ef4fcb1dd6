// Package server exposes a workflow.Session over a local HTTP control
// surface: file selection, submit, cancel and retry, the current status as
// JSON, a websocket stream of status snapshots and the process-lifetime run
// history.
package server
