package packet

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Reader frames a byte stream into raw 65-byte packets.
//
// Bytes preceding a magic marker are dropped and reported once as ErrDesync,
// so the caller can answer the garbage and keep reading.
type Reader struct {
	br      *bufio.Reader
	maxSkip int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4*Size), maxSkip: 4096}
}

// Next returns the next frame. It does not validate the checksum; use Decode.
func (r *Reader) Next() ([]byte, error) {
	skipped := 0
	for {
		head, err := r.br.Peek(len(Magic))
		if err != nil {
			if len(head) > 0 && errors.Is(err, io.EOF) {
				_, _ = r.br.Discard(len(head))
				return nil, fmt.Errorf("%w: %d trailing bytes", ErrShortPacket, skipped+len(head))
			}
			if skipped > 0 && errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: dropped %d bytes", ErrDesync, skipped)
			}
			return nil, err
		}
		if bytes.Equal(head, Magic[:]) {
			break
		}
		if _, err := r.br.Discard(1); err != nil {
			return nil, err
		}
		skipped++
		if skipped >= r.maxSkip {
			return nil, fmt.Errorf("%w: dropped %d bytes", ErrDesync, skipped)
		}
	}
	if skipped > 0 {
		return nil, fmt.Errorf("%w: dropped %d bytes", ErrDesync, skipped)
	}

	buf := make([]byte, Size)
	n, err := io.ReadFull(r.br, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, n)
		}
		return nil, err
	}
	return buf, nil
}
