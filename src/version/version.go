package version

// Version is the genbak release version. Overridden at build time via
// -ldflags "-X genbak/src/version.Version=...".
var Version = "0.3.0"
