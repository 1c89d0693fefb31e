package tail

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

const lastLinesChunk = 64 << 10

// LastLines returns up to n non-blank lines from the end of path in file
// order, reading backwards so large transcripts are not loaded whole. A
// trailing line without a newline is included.
func LastLines(path string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	var (
		pos   = info.Size()
		tail  []byte
		lines [][]byte
	)
	for pos > 0 && len(lines) < n {
		size := int64(lastLinesChunk)
		if pos < size {
			size = pos
		}
		pos -= size

		chunk := make([]byte, size)
		if _, err := f.ReadAt(chunk, pos); err != nil && err != io.EOF {
			return nil, fmt.Errorf("read %s at %d: %w", path, pos, err)
		}
		tail = append(chunk, tail...)

		// Everything after the first newline in tail is made of whole lines;
		// the head may continue in an earlier chunk.
		lines = lines[:0]
		start := 0
		if pos > 0 {
			i := bytes.IndexByte(tail, '\n')
			if i < 0 {
				continue
			}
			start = i + 1
		}
		lines = collectLines(tail[start:], n)
	}
	return lines, nil
}

// collectLines returns the last n non-blank lines of buf in order.
func collectLines(buf []byte, n int) [][]byte {
	var out [][]byte
	for len(buf) > 0 && len(out) < n {
		buf = bytes.TrimRight(buf, "\r\n")
		i := bytes.LastIndexByte(buf, '\n')
		line := buf[i+1:]
		if i < 0 {
			buf = nil
		} else {
			buf = buf[:i]
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		out = append(out, line)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
