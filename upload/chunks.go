package upload

import (
	"fmt"
	"io"
	"os"
)

// chunkReader reads fixed size chunks of a file by index.
// Every chunk is read into a new buffer so a retried upload re-sends the exact same bytes.
type chunkReader struct {
	file      *os.File
	size      int64
	chunkSize int64
	numChunks int
}

func newChunkReader(path string, chunkSize int64) (*chunkReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, fmt.Errorf("stat file: %w", err)
	}

	size := info.Size()
	return &chunkReader{
		file:      file,
		size:      size,
		chunkSize: chunkSize,
		numChunks: chunkCount(size, chunkSize),
	}, nil
}

// chunkCount returns ceil(size / chunkSize).
func chunkCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

func (r *chunkReader) NumChunks() int {
	return r.numChunks
}

// ChunkSize returns the size of the chunk at the given index, only the last one may be shorter.
func (r *chunkReader) ChunkSize(index int) int64 {
	if index < 0 || index >= r.numChunks {
		return 0
	}
	if index == r.numChunks-1 {
		return r.size - int64(index)*r.chunkSize
	}
	return r.chunkSize
}

func (r *chunkReader) Chunk(index int) ([]byte, error) {
	if index < 0 || index >= r.numChunks {
		return nil, fmt.Errorf("chunk index %d out of range [0, %d)", index, r.numChunks)
	}

	offset := int64(index) * r.chunkSize
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to position %d for chunk %d: %w", offset, index+1, err)
	}

	chunk := make([]byte, r.ChunkSize(index))
	n, err := io.ReadFull(r.file, chunk)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read chunk %d: %w", index+1, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("unexpected end of file at chunk %d", index+1)
	}

	return chunk[:n], nil
}

func (r *chunkReader) Close() error {
	return r.file.Close()
}
