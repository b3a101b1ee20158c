// Package subtrans holds top-level metadata for the subtrans binary.
package subtrans

// Version is the application version, overridable at build time with
// -ldflags "-X github.com/rainlynd/srt-translator-sub001.Version=...".
var Version = "0.3.0"
