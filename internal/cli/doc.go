// Package cli provides the interactive gophnotes command-line client.
//
// It drives the security coordinator: sign-up and sign-in, encrypted note
// editing, key backup export and restore, and inspection of the security
// event log. Alerts raised by the coordinator are printed as they arrive.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
