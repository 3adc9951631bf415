// Package buildinfo carries version metadata stamped at build time via
// -ldflags and reported by the health endpoint.
package buildinfo

var (
	Version = "0.0.0-dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}
