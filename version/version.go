package version

const (
	// SyncCoreSemVer is the current version of the sync subsystem.
	SyncCoreSemVer = "0.1.0"

	// ProtocolVersion is the protocol version this node speaks. Chunk
	// requests issued while syncing carry it so peers can shape responses.
	ProtocolVersion uint32 = 39
)
