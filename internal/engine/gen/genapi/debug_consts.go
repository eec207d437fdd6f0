package genapi

// These consts are used various places in the gen backend implementation.
// Keeping them in one place saves the "where do we have debug logging?" time.

// ----- Debug logging -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	SelectionLoggingEnabled = false
	RegAllocLoggingEnabled  = false
)

// ----- Output prints -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	PrintSelection          = false
	PrintRegisterAllocated  = false
	PrintFinalizedWords     = false
	PrintPatchedBranches    = false
	PrintKernelMetadataDump = false
)

// ----- Validations -----
// These consts must be enabled by default until we reach the point where we can disable them.

const (
	RegAllocValidationEnabled = true
	EncoderValidationEnabled  = true
)
