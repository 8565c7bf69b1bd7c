package version

// Set at build time via -ldflags "-X ddsrecorder/internal/version.Release=... -X ddsrecorder/internal/version.Commit=...".
var (
	Release = "dev"
	Commit  = "unknown"
)
