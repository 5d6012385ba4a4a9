package version

import (
	goversion "github.com/hashicorp/go-version"
)

// will be replaced with the release version when using goreleaser
var version = "development"

// YegramVersion returns the Yegram version
func YegramVersion() string {
	return version
}

// IsCompatible reports whether a peer running remote can talk to this build: both must share the major
// version. Development builds and unparsable versions are always considered compatible.
func IsCompatible(remote string) bool {
	local, err := goversion.NewVersion(version)
	if err != nil {
		return true
	}
	other, err := goversion.NewVersion(remote)
	if err != nil {
		return true
	}
	return local.Segments()[0] == other.Segments()[0]
}
