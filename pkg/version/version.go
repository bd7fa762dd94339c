// Package version exposes build-time version metadata.
package version

// ForumfilterVersion is the semantic version string embedded at build time.
var ForumfilterVersion = "0.0.0-src"

// Set version at compile time with
// go build -ldflags "-X forumfilter/pkg/version.ForumfilterVersion=1.0.0" -o forumfilter

// For a release build with version and optimization flags:
// go build -ldflags "-s -w -X forumfilter/pkg/version.ForumfilterVersion=1.0.0" -o forumfilter
