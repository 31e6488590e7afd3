package constants

import "time"

// Checkpoint persistence cadence and paths.
const (
	// CheckpointSaveInterval is the default cadence at which the dispatcher
	// flushes progress to disk.
	CheckpointSaveInterval = 30 * time.Second

	// CheckpointDirPerm is the permission mode used when creating the
	// checkpoint directory.
	CheckpointDirPerm = 0o755

	// CheckpointFilePerm is the permission mode used for checkpoint files.
	CheckpointFilePerm = 0o644
)
