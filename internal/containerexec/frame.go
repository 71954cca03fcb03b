package containerexec

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Stream discriminators in Docker's multiplexed exec frame header.
const (
	streamStdout = 1
	streamStderr = 2
)

// frameHeaderLen is the fixed 8-byte header every multiplexed frame
// carries: [stream(1), 0, 0, 0, size(4, big-endian)].
const frameHeaderLen = 8

// demux reads a Docker multiplexed exec stream to EOF, splitting stdout
// and stderr byte-exact per §4.G and the "Multiplexed exec stream
// parsing" design note: frame boundaries need not align with socket
// read boundaries, so reads must be buffered across calls rather than
// assumed to land whole. bufio.Reader's io.ReadFull-driven reads here
// give us exactly that buffering.
func demux(r io.Reader) (stdout, stderr []byte, err error) {
	br := bufio.NewReaderSize(r, 32*1024)
	var outBuf, errBuf []byte

	header := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF {
				break
			}
			return outBuf, errBuf, err
		}

		stream := header[0]
		size := binary.BigEndian.Uint32(header[4:8])

		payload := make([]byte, size)
		if size > 0 {
			if _, err := io.ReadFull(br, payload); err != nil {
				return outBuf, errBuf, err
			}
		}

		switch stream {
		case streamStdout:
			outBuf = append(outBuf, payload...)
		case streamStderr:
			errBuf = append(errBuf, payload...)
		}
	}

	return outBuf, errBuf, nil
}
