// Package tools runs the bench's child processes.
//
// Ownership boundary:
// - foreground and background command execution
//
// - console placement (new window on Windows, new session elsewhere)
//
// - console code page setup
package tools
