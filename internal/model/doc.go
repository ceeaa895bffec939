// Package model defines the domain types and value objects for the
// devserve CLI.
//
// This package contains pure data structures with no external dependencies.
// ServeOptions is what the user asked for, PortRequest is a single probe
// target, and ServeConfiguration is the finished configuration handed to the
// serve task once both ports are resolved.
//
// The package also defines the error taxonomy (sentinel errors), exit codes
// (ExitCode) and a custom error type (CLIError) that carries exit codes for
// proper OS process exit handling.
package model
