// ABOUTME: Version and product identification
// ABOUTME: Version is overridden at build time with -ldflags
package version

// Version is set with -ldflags "-X .../internal/version.Version=v1.2.3"
var Version = "0.1.0-dev"

const (
	Product      = "Kantera Player"
	Manufacturer = "Kantera"
)

// String returns the product name and version
func String() string {
	return Product + " " + Version
}
