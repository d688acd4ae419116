package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// ChunkFn writes one chunk and returns the number of items reported written.
type ChunkFn[T any] func(ctx context.Context, chunk []T) (int64, error)

// ChunkReport summarizes a LoadChunks run.
type ChunkReport struct {
	Chunks       int     `json:"chunks"`
	FailedChunks int     `json:"failedChunks"`
	Written      int64   `json:"written"`
	Failed       int64   `json:"failed"`
	Errors       []error `json:"-"`
}

// LoadChunks splits items into chunks of size and calls fn for each in order.
// A failing chunk is logged, counted as failed and skipped; loading continues
// with the next chunk. progress, when non-nil, is called after every chunk
// with the number of items processed so far.
//
// Cancellation: no further chunks are started once ctx is done and ctx.Err()
// is returned with the report so far.
func LoadChunks[T any](
	ctx context.Context,
	items []T,
	size int,
	fn ChunkFn[T],
	progress func(done, total int),
) (ChunkReport, error) {
	var rep ChunkReport
	if size <= 0 {
		return rep, fmt.Errorf("storage: chunk size must be > 0")
	}
	if fn == nil {
		return rep, fmt.Errorf("storage: chunk fn must not be nil")
	}

	var (
		start       = time.Now()
		lastFlushTS = start
	)
	for lo := 0; lo < len(items); lo += size {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		hi := min(lo+size, len(items))
		chunk := items[lo:hi]

		n, err := fn(ctx, chunk)
		rep.Chunks++
		rep.Written += n
		now := time.Now()
		sinceLast := now.Sub(lastFlushTS)

		if err != nil {
			rep.FailedChunks++
			rep.Failed += int64(len(chunk)) - n
			rep.Errors = append(rep.Errors, fmt.Errorf("chunk %d (rows %d-%d): %w", rep.Chunks, lo, hi-1, err))
			log.Printf("loader: chunk #%d failed rows=%d written=%d err=%v", rep.Chunks, len(chunk), n, err)
		} else {
			rps := float64(0)
			if sinceLast > 0 {
				rps = float64(n) / sinceLast.Seconds()
			}
			log.Printf(
				"chunk #%d: rps=%.0f inserted=%d total_inserted=%d elapsed=%s since_last=%s",
				rep.Chunks,
				rps,
				n,
				rep.Written,
				now.Sub(start).Truncate(time.Millisecond),
				sinceLast.Truncate(time.Millisecond),
			)
		}
		lastFlushTS = now

		if progress != nil {
			progress(hi, len(items))
		}
	}
	return rep, nil
}
