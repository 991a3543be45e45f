package consts

import "errors"

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSnapshotExists   = errors.New("snapshot already exists")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrRuleNotFound     = errors.New("rule not found")
	ErrArgsNotFound     = errors.New("consolidation args not found")
	ErrScriptNotFound   = errors.New("script not found")

	ErrMalformedState = errors.New("malformed persisted state")
	ErrInvalidStatus  = errors.New("invalid rule status")
	ErrInvalidConfig  = errors.New("invalid configuration")

	ErrSerializationFailed = errors.New("serialization failed")
)
