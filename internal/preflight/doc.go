// Package preflight provides readiness checks for the engine binaries, the
// workspace directories and the remote API that uploadai depends on.
//
// These checks back the "uploadai doctor" command and the /healthz endpoint
// of the control server. They report; they never fix anything.
package preflight
