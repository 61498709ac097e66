package stream

import (
	"context"
	"io"

	"github.com/okzhou/mdmend/internal/markdown"
)

// Source produces the raw fragment sequence for one stream, in order.
// Recv returns io.EOF at the end of the sequence; any other error is an
// upstream generation failure. Recv may block.
type Source interface {
	Recv(ctx context.Context) (string, error)
}

// Filter post-processes a rendering before delivery. A non-nil error means
// the filter pass failed; the pipeline falls back to the unfiltered text.
type Filter interface {
	Apply(ctx context.Context, text string) (string, error)
}

// Pipeline drives one stream: fragments from Source are accumulated by the
// normalizer, periodically re-normalized, filtered, and delivered to Sink as
// full-replace Text events. On exit — end of stream, upstream failure, or
// consumer cancellation — it finalizes, delivers the authoritative rendering,
// and persists it, so the persisted record always equals the last delivered
// Text content.
//
// A pipeline is owned by a single producer goroutine; nothing in it is
// shared across streams except the Filter's rule cache, which locks
// internally.
type Pipeline struct {
	ConversationID string
	Source         Source
	Normalizer     *markdown.IncrementalNormalizer

	// Filter is optional; nil means deliver unfiltered.
	Filter Filter

	// Sink is optional; nil means Discard.
	Sink Sink

	// Persist stores the final content. Optional; nil skips persistence.
	Persist func(ctx context.Context, content string) error
}

// Run executes the stream to completion and returns the final filtered text.
// The returned error is the upstream failure if one occurred, otherwise any
// persistence failure. The final text is valid in both cases.
func (p *Pipeline) Run(ctx context.Context) (string, error) {
	sink := p.Sink
	if sink == nil {
		sink = Discard
	}

	// Exactly one Meta event opens the stream.
	_ = sink.Send(Meta(p.ConversationID))

	srcErr := p.consume(ctx, sink)

	// Guaranteed cleanup phase: runs however the event loop exited, on a
	// context that survives consumer cancellation.
	cleanupCtx := context.WithoutCancel(ctx)
	final := p.filtered(cleanupCtx, p.Normalizer.Finalize())

	// The last Text before Done/Error is the persisted record.
	_ = sink.Send(Text(final))
	if srcErr != nil {
		_ = sink.Send(Errorf("%v", srcErr))
	} else {
		_ = sink.Send(Done())
	}

	var persistErr error
	if p.Persist != nil {
		persistErr = p.Persist(cleanupCtx, final)
	}

	if srcErr != nil {
		return final, srcErr
	}
	return final, persistErr
}

// consume pulls fragments until the source ends or fails. Delivery failures
// are ignored: a gone consumer must not stop accumulation, and cancellation
// surfaces through Recv.
func (p *Pipeline) consume(ctx context.Context, sink Sink) error {
	for {
		frag, err := p.Source.Recv(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if frag == "" {
			continue
		}

		if snapshot, ok := p.Normalizer.Append(frag); ok {
			_ = sink.Send(Text(p.filtered(ctx, snapshot)))
		}
	}
}

// filtered applies the content filter, degrading to the repaired-but-
// unfiltered text when the filter pass fails.
func (p *Pipeline) filtered(ctx context.Context, text string) string {
	if p.Filter == nil {
		return text
	}
	out, err := p.Filter.Apply(ctx, text)
	if err != nil {
		return text
	}
	return out
}
