// Package codec provides the record model and binary serialization for MCAP
// container files.
//
// An MCAP file is a sequence of opcode-tagged, length-framed records enclosed
// by a magic byte sequence:
//
//	[Magic(8)][Header][Data section ...][DataEnd][Summary ...][SummaryOffset ...][Footer][Magic(8)]
//
// Every record is framed the same way:
//
//	[Opcode(1)][Length(8)][Payload(Length)]
//
// All integers are little-endian. Variable-length fields use a fixed prefix
// width per field type:
//   - string: 4-byte length followed by UTF-8 bytes
//   - Schema.Data: 4-byte length followed by bytes
//   - Chunk.Records and Attachment.Data: 8-byte length followed by bytes
//   - maps and arrays: 4-byte total byte length followed by the entries
//   - Message.Data: the remainder of the payload, no prefix
//
// # Decoding
//
// Decode maps an opcode and payload to one of the typed records:
//
//	rec, err := codec.Decode(codec.OpMessage, payload)
//	if err != nil {
//	    return err
//	}
//	msg := rec.(*codec.Message)
//
// Opcodes outside the fixed set decode to an *Unknown record holding the raw
// payload, together with an error matching ErrUnknownOpcode. Callers that only
// want to skip such records test the error with errors.Is and move on; callers
// that re-encode a file keep the *Unknown so it round-trips byte for byte.
//
// A payload that is shorter than its layout requires, or whose length
// prefixes point past the end, fails with ErrMalformedPayload. Decoded
// byte slices alias the payload buffer.
//
// # Encoding
//
// Encode is the inverse of Decode. AppendFrame writes the full
// opcode/length/payload frame. Maps are written with their keys in ascending
// order so the same record always produces the same bytes.
//
// # Errors
//
// The error taxonomy shared by the lexer, compression, reader and writer
// packages lives here. All errors are sentinel values compared with
// errors.Is; CRC mismatches are reported as *CRCError, which matches
// ErrIntegrity.
package codec
