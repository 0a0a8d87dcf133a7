// Package buildinfo carries values stamped in at link time.
package buildinfo

// Version is set with -ldflags "-X wgsync/internal/buildinfo.Version=...".
var Version = "dev"
