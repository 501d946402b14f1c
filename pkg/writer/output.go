package writer

import (
	"io"

	"github.com/ssargent/mcapkit/pkg/codec"
)

// output tracks the absolute file offset and a running CRC of everything
// written so far.
type output struct {
	w       io.Writer
	offset  int64
	crc     uint32
	scratch []byte
}

func (o *output) Write(p []byte) (int, error) {
	n, err := o.w.Write(p)
	o.crc = codec.UpdateCRC(o.crc, p[:n])
	o.offset += int64(n)
	return n, err
}

// writeRecord frames and writes r, returning its start offset and framed size.
func (o *output) writeRecord(r codec.Record) (int64, int64, error) {
	start := o.offset
	var err error
	o.scratch, err = codec.AppendFrame(o.scratch[:0], r)
	if err != nil {
		return start, 0, err
	}
	if _, err := o.Write(o.scratch); err != nil {
		return start, 0, err
	}
	return start, o.offset - start, nil
}
