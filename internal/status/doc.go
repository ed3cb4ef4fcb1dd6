// Package status tracks a submission through its strictly ordered states:
// waiting, converting, uploading, generating and success, plus the error and
// cancelled outcomes. Machine rejects any edge outside that graph and
// publishes every change to subscribers as a sequenced Snapshot.
package status
