package consts

// Snapshot layout. Every run owns one directory under the snapshot root,
// named with SnapshotTimeLayout so that lexicographic order is chronological.
const (
	SnapshotTimeLayout = "2006-01-02_15-04-05"
	LatestLink         = "latest"

	CaptureFile           = "capture.json"
	ArchiveFile           = "archive.json"
	ManifestFile          = "manifest.json"
	ConsolidationArgsFile = "consolidation_args.json"
	ScriptBaseName        = "consolidated"

	SchemaVersion = "1.0"
	ToolVersion   = "0.3.0"
)

// DataDirEnv overrides the configured snapshot root, mainly for test isolation.
const DataDirEnv = "PROTONFUSION_DATA_DIR"
