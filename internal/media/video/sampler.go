package video

import (
	"context"
	"errors"
	"io"
	"iter"
)

// Policy selects which frames Sample yields.
type Policy interface {
	frames(ctx context.Context, a *Asset) iter.Seq2[Frame, error]
}

// Stride yields every Step-th frame starting at Step (frame 0 is never
// emitted). MaxFrames caps the number of yielded frames and Within limits how
// far into the stream frames are inspected; zero disables either bound.
type Stride struct {
	Step      int
	MaxFrames int
	Within    int
}

// Percentile yields Count frames at the centres of Count equal slices of the
// video. Positions that fail to decode are skipped.
type Percentile struct {
	Count int
}

// Sample returns the frames of a chosen by policy. The sequence is lazy and
// may be ranged over again to restart sampling. An empty sequence means the
// video had no usable frames; errors are yielded only when decoding breaks
// mid-stream or ctx is cancelled.
func Sample(ctx context.Context, a *Asset, policy Policy) iter.Seq2[Frame, error] {
	if a == nil || policy == nil {
		return func(func(Frame, error) bool) {}
	}
	return policy.frames(ctx, a)
}

// StrideIndices returns the indices Stride{step, max, within} would select
// from a stream of total frames.
func StrideIndices(total, step, max, within int) []int {
	if step <= 0 || total <= 0 {
		return nil
	}
	var out []int
	for idx := step; idx < total; idx += step {
		if within > 0 && idx > within {
			break
		}
		out = append(out, idx)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// PercentileIndices returns floor(total*(2i+1)/(2k)) for i in [0,k), with
// duplicates removed for very short clips.
func PercentileIndices(total, k int) []int {
	if total <= 0 || k <= 0 {
		return nil
	}
	out := make([]int, 0, k)
	last := -1
	for i := 0; i < k; i++ {
		idx := total * (2*i + 1) / (2 * k)
		if idx >= total {
			idx = total - 1
		}
		if idx == last {
			continue
		}
		out = append(out, idx)
		last = idx
	}
	return out
}

func (s Stride) frames(ctx context.Context, a *Asset) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		if s.Step <= 0 {
			return
		}
		reader, err := a.sequential(ctx)
		if err != nil {
			yield(Frame{}, err)
			return
		}
		defer a.release(reader)

		emitted := 0
		for idx := 0; ; idx++ {
			if err := ctx.Err(); err != nil {
				yield(Frame{}, err)
				return
			}
			if s.Within > 0 && idx > s.Within {
				return
			}
			img, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if idx == 0 || idx%s.Step != 0 {
				continue
			}
			if !yield(Frame{Index: idx, Image: img}, nil) {
				return
			}
			emitted++
			if s.MaxFrames > 0 && emitted >= s.MaxFrames {
				return
			}
		}
	}
}

func (p Percentile) frames(ctx context.Context, a *Asset) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for _, idx := range PercentileIndices(a.FrameCount, p.Count) {
			if err := ctx.Err(); err != nil {
				yield(Frame{}, err)
				return
			}
			img, err := a.frameAt(ctx, idx)
			if err != nil || img == nil {
				continue
			}
			if !yield(Frame{Index: idx, Image: img}, nil) {
				return
			}
		}
	}
}
