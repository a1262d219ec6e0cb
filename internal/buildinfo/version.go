// Package buildinfo holds the running binary's version, set at build time
// via -ldflags so the supervisor can compare it against the control
// plane's version_info update advisory.
package buildinfo

// Version is overridden at build time, e.g.:
//
//	go build -ldflags "-X github.com/adno-labs/agent-runtime/internal/buildinfo.Version=1.4.0"
var Version = "dev"
