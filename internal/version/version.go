// Package version holds the release version reported by the CLI and sent to
// upstream APIs.
package version

// Current is the release version, without a "v" prefix.
const Current = "0.1.0"

// UserAgent identifies outbound HTTP requests.
func UserAgent() string {
	return "leadgen-pipeline/" + Current
}
