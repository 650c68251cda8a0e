package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// ErrStream is returned for a malformed compressed state stream.
var ErrStream = errors.New("checkpoint: corrupt state stream")

const (
	uint32ByteSize = 4

	blockRaw byte = 0
	blockLZ4 byte = 1
)

// CompressStates packs a decoded state stream into an LZ4 block. The first
// byte records whether the block is compressed; short or incompressible
// streams are stored raw.
func CompressStates(states []int) ([]byte, error) {
	if len(states) == 0 {
		return nil, nil
	}

	words := make([]uint32, len(states))

	for i, s := range states {
		if s < 0 {
			return nil, fmt.Errorf("%w: negative state %d at %d", ErrStream, s, i)
		}

		words[i] = uint32(s)
	}

	buf := new(bytes.Buffer)

	err := binary.Write(buf, binary.LittleEndian, words)
	if err != nil {
		return nil, fmt.Errorf("encode states: %w", err)
	}

	compressed := make([]byte, 1+lz4.CompressBlockBound(buf.Len()))

	written, err := lz4.CompressBlock(buf.Bytes(), compressed[1:], nil)
	if err != nil {
		return nil, fmt.Errorf("compress states: %w", err)
	}

	if written == 0 || written >= buf.Len() {
		return append([]byte{blockRaw}, buf.Bytes()...), nil
	}

	compressed[0] = blockLZ4

	return compressed[:1+written], nil
}

// DecompressStates restores n states packed by CompressStates.
func DecompressStates(data []byte, n int) ([]int, error) {
	if n == 0 {
		return []int{}, nil
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty block for %d states", ErrStream, n)
	}

	raw := data[1:]

	switch data[0] {
	case blockRaw:
	case blockLZ4:
		out := make([]byte, n*uint32ByteSize)

		read, err := lz4.UncompressBlock(raw, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStream, err)
		}

		raw = out[:read]
	default:
		return nil, fmt.Errorf("%w: unknown block kind %d", ErrStream, data[0])
	}

	if len(raw) != n*uint32ByteSize {
		return nil, fmt.Errorf("%w: %d bytes for %d states", ErrStream, len(raw), n)
	}

	words := make([]uint32, n)

	err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, words)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStream, err)
	}

	states := make([]int, n)
	for i, w := range words {
		states[i] = int(w)
	}

	return states, nil
}
