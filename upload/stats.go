package upload

import "time"

// Stats tracks the chunk upload durations of a transfer, retries included.
type Stats struct {
	sum            time.Duration
	finishedChunks int
	bytes          int64
}

func (s *Stats) Update(d time.Duration, size int64) {
	s.sum += d
	s.finishedChunks++
	s.bytes += size
}

// Average returns the average upload duration of the finished chunks.
func (s *Stats) Average() time.Duration {
	if s.finishedChunks == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedChunks)
}

func (s *Stats) FinishedCount() int {
	return s.finishedChunks
}

func (s *Stats) Bytes() int64 {
	return s.bytes
}

func (s *Stats) Total() time.Duration {
	return s.sum
}
