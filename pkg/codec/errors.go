package codec

import "fmt"

// Errors
var (
	ErrTruncatedRecord           = &FormatError{"truncated record"}
	ErrMalformedPayload          = &FormatError{"malformed payload"}
	ErrUnknownOpcode             = &FormatError{"unknown opcode"}
	ErrUnsupportedCompression    = &FormatError{"unsupported compression"}
	ErrDecompressionSizeMismatch = &FormatError{"decompressed size mismatch"}
	ErrDecompressionFailed       = &FormatError{"decompression failed"}
	ErrIntegrity                 = &FormatError{"integrity check failed"}
	ErrInvalidMagic              = &FormatError{"invalid magic"}

	ErrAlreadyFinalized   = &FormatError{"writer already finalized"}
	ErrWriteAfterFinalize = &FormatError{"write after finalize"}
	ErrHeaderRequired     = &FormatError{"header must be written first"}
	ErrHeaderWritten      = &FormatError{"header already written"}
	ErrUnknownChannel     = &FormatError{"unknown channel"}
	ErrUnknownSchema      = &FormatError{"unknown schema"}
)

// FormatError represents an MCAP format or usage error
type FormatError struct {
	Message string
}

func (e *FormatError) Error() string {
	return e.Message
}

// CRCError reports a checksum mismatch on a record or section.
type CRCError struct {
	Record   string // what was checked, e.g. "chunk" or "data section"
	Offset   int64  // file offset of the checked record, -1 if unknown
	Expected uint32
	Actual   uint32
	// Cause is set when the checksum could not be computed at all, as when
	// the bytes it covers fail to decompress.
	Cause error
}

func (e *CRCError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s crc at offset %d cannot be verified: %v", e.Record, e.Offset, e.Cause)
	}
	return fmt.Sprintf("%s crc mismatch at offset %d: expected %08x, computed %08x",
		e.Record, e.Offset, e.Expected, e.Actual)
}

// Is makes every CRCError match ErrIntegrity.
func (e *CRCError) Is(target error) bool {
	return target == ErrIntegrity
}

func (e *CRCError) Unwrap() error {
	return e.Cause
}
