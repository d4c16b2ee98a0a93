package config

import "os"

// sensitiveFlagPlaceholders maps the CLI flags carrying secrets to their
// scrub placeholders, per spec.md §6. Best-effort: rewriting os.Args only
// changes what a subsequent /proc/self/cmdline read (or a crash handler that
// walks os.Args) would see in *this* process going forward; it cannot erase
// what a process-listing tool captured before Scrub ran. The teacher
// documents the same kind of platform candor in its safety_linux.go /
// safety_darwin.go build-tag split for free-space checks.
var sensitiveFlagPlaceholders = map[string]string{
	"-p":          "<APPLE ID PASSWORD>",
	"--password":  "<APPLE ID PASSWORD>",
	"-T":          "<TRUST TOKEN>",
	"--trust-token": "<TRUST TOKEN>",
}

// Scrub overwrites os.Args slots that held secret flag values with
// placeholders, and unsets the environment variables that can carry
// secrets, so neither appears in a later introspection of this process.
// Must be called only after flag parsing has consumed the real values.
func Scrub() {
	args := os.Args

	for i := 0; i < len(args)-1; i++ {
		if placeholder, ok := sensitiveFlagPlaceholders[args[i]]; ok {
			args[i+1] = placeholder
		}
	}

	os.Unsetenv("APPLE_ID_PWD")
	os.Unsetenv("TRUST_TOKEN")
}
