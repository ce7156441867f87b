// Package build provides build information that is linked into the application. Other
// packages within this project can use this information in logs etc..
package build

var (
	// Version is the build version of the binary (e.g. v0.1.0 or v0.1.0-rc1).
	Version = "dev"

	// Commit is the git commit hash of the source that produced the binary.
	Commit = "none"

	// Date is the date when the binary was built.
	Date = "unknown"

	// ProjectName is used as the service name for traces and the metrics namespace.
	ProjectName = "segmentmapper"
)

// MinimumSupportedDatastoreSchemaRevision is the lowest migration version the worker can run against.
const MinimumSupportedDatastoreSchemaRevision = 1
