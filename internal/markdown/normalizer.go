package markdown

import "strings"

// IncrementalNormalizer amortizes repair cost across a live stream. Rather
// than diffing, it re-runs the repair engine over the full fragment buffer at
// every checkpoint: a delayed fragment (a heading's closing bracket arriving
// several chunks late) can retroactively change how earlier text segments.
// Checkpointing every interval fragments bounds total work while keeping
// visible updates reasonably fresh.
//
// One instance owns one stream's buffer; it is not safe for concurrent use
// and is not meant to be shared.
type IncrementalNormalizer struct {
	interval  int
	mode      BreakMode
	fragments []string
	count     int
	snapshot  string
}

// NewIncrementalNormalizer creates a normalizer with the given checkpoint
// interval. Intervals below 1 are clamped to 1 (normalize on every fragment).
func NewIncrementalNormalizer(interval int, mode BreakMode) *IncrementalNormalizer {
	if interval < 1 {
		interval = 1
	}
	return &IncrementalNormalizer{interval: interval, mode: mode}
}

// Append pushes one fragment onto the buffer. At every interval-th fragment
// it re-normalizes the full accumulated text and returns it with ok=true;
// otherwise it returns "", false.
func (n *IncrementalNormalizer) Append(fragment string) (string, bool) {
	n.fragments = append(n.fragments, fragment)
	n.count++

	if n.count%n.interval == 0 {
		return n.normalize(), true
	}
	return "", false
}

// Finalize unconditionally re-normalizes the full buffer and returns the
// result. This return value is authoritative for persistence.
func (n *IncrementalNormalizer) Finalize() string {
	return n.normalize()
}

// Snapshot returns the result of the last checkpoint (or finalize), without
// recomputing.
func (n *IncrementalNormalizer) Snapshot() string {
	return n.snapshot
}

// FragmentCount returns the number of fragments appended so far.
func (n *IncrementalNormalizer) FragmentCount() int {
	return n.count
}

// normalize repairs the full concatenation and applies the legacy cleanup
// pass, so checkpoint output and finalize output are computed identically.
func (n *IncrementalNormalizer) normalize() string {
	raw := strings.Join(n.fragments, "")
	s := RepairMode(raw, n.mode)
	s = ScrubBreaks(s, n.mode)
	n.snapshot = s
	return s
}
