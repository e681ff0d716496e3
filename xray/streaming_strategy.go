package xray

import (
	"github.com/shogo82148/xray-dispatcher-go/xray/schema"
)

// StreamingStrategy provides an interface for implementing streaming strategies.
type StreamingStrategy interface {
	// StreamSegment is called when seg is closed,
	// and returns the documents that should be sent to the daemon.
	StreamSegment(seg *Segment) []*schema.Segment
}

type streamingStrategyBatchAll struct{}

// NewStreamingStrategyBatchAll returns a streaming strategy
// that sends the whole trace when the root segment is closed.
func NewStreamingStrategyBatchAll() StreamingStrategy {
	return &streamingStrategyBatchAll{}
}

func (s *streamingStrategyBatchAll) StreamSegment(seg *Segment) []*schema.Segment {
	if !seg.isRoot() {
		return nil
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	return []*schema.Segment{serialize(seg, true)}
}

type streamingStrategyLimitSubsegment struct {
	limit int
}

// NewStreamingStrategyLimitSubsegment returns a streaming strategy
// that sends completed subsegments independently
// once a trace holds more than limit subsegments.
func NewStreamingStrategyLimitSubsegment(limit int) StreamingStrategy {
	if limit < 0 {
		panic("xray: limit should not be negative")
	}
	return &streamingStrategyLimitSubsegment{
		limit: limit + 1,
	}
}

func (s *streamingStrategyLimitSubsegment) StreamSegment(seg *Segment) []*schema.Segment {
	root := seg.root
	root.mu.Lock()
	defer root.mu.Unlock()

	// fast pass for batching all subsegments.
	if root.totalSegments <= s.limit {
		if seg.isRoot() {
			return []*schema.Segment{serialize(seg, true)}
		}
		return nil
	}

	var result []*schema.Segment
	collectCompleted(root, &result)
	return result
}

// collectCompleted appends completed segments that are not emitted yet.
// The locks of seg's ancestors must be held.
func collectCompleted(seg *Segment, result *[]*schema.Segment) {
	if !seg.inProgress() && seg.status != segmentStatusEmitted {
		*result = append(*result, serialize(seg, false))
	}
	for _, sub := range seg.subsegments {
		sub.mu.Lock()
		collectCompleted(sub, result)
		sub.mu.Unlock()
	}
}

// serialize converts seg into a document. If nested is true,
// subsegments are embedded, otherwise seg is serialized as an independent document.
// The locks of seg and its ancestors must be held.
func serialize(seg *Segment, nested bool) *schema.Segment {
	originTime := seg.root.startTime
	originEpoch := float64(originTime.Unix()) + float64(originTime.Nanosecond())/1e9
	ret := &schema.Segment{
		Name:      seg.name,
		ID:        seg.id,
		StartTime: originEpoch + seg.startTime.Sub(originTime).Seconds(),

		Error:    seg.error,
		Throttle: seg.throttle,
		Fault:    seg.fault,
		Cause:    seg.cause,

		Namespace:   seg.namespace,
		Annotations: seg.annotations,
		Metadata:    seg.metadata,
		HTTP:        seg.http,
	}

	if seg.inProgress() {
		ret.InProgress = true
	} else {
		seg.status = segmentStatusEmitted
		seg.root.emittedSegments++

		// use monotonic clock instead of wall clock to get correct processing time.
		// https://golang.org/pkg/time/#hdr-Monotonic_Clocks
		ret.EndTime = originEpoch + seg.endTime.Sub(originTime).Seconds()
	}

	if seg.isRoot() || !nested {
		ret.TraceID = seg.traceID
		ret.Service = ServiceData
		ret.AWS = schema.AWS{}
		ret.AWS.SetXRay(&schema.XRay{
			Version: Version,
			Type:    Type,
		})
	}
	switch {
	case !seg.isRoot() && !nested:
		ret.ParentID = seg.parent.id
		ret.Type = "subsegment"
	case seg.isRoot() && seg.traceHeader.ParentID != "":
		// the parent is on upstream
		ret.ParentID = seg.traceHeader.ParentID
	}

	if nested {
		for _, sub := range seg.subsegments {
			sub.mu.Lock()
			ret.Subsegments = append(ret.Subsegments, serialize(sub, true))
			sub.mu.Unlock()
		}
	}
	return ret
}
