package xray

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shogo82148/xray-dispatcher-go/xray/sampling"
	"github.com/shogo82148/xray-dispatcher-go/xray/schema"
	"github.com/shogo82148/xray-dispatcher-go/xray/xraylog"
)

var nowFunc func() time.Time = time.Now

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string { return "xray context value " + k.name }

var (
	segmentContextKey = &contextKey{"segment"}
	clientContextKey  = &contextKey{"client"}
)

type segmentStatus int

const (
	segmentStatusInit segmentStatus = iota
	segmentStatusEmitted
)

// Segment is a segment.
// All methods are safe to call on a nil *Segment; they do nothing.
type Segment struct {
	mu        sync.RWMutex
	ctx       context.Context
	name      string
	id        string
	traceID   string
	startTime time.Time
	endTime   time.Time
	status    segmentStatus

	// parent segment
	// if the segment is the root, the parent is nil.
	parent *Segment

	// root segment
	// if the segment is the root, the root points the segment it self.
	root *Segment

	// the following fields are used only by the root.
	traceHeader     TraceHeader
	sampled         bool
	totalSegments   int
	closedSegments  int
	emittedSegments int

	// subsegments that are not completed.
	subsegments []*Segment

	// error information
	error    bool
	throttle bool
	fault    bool
	cause    *schema.Cause

	namespace   string
	annotations map[string]interface{}
	metadata    map[string]interface{}
	http        *schema.HTTP
}

// NewTraceID generates a string format of random trace ID.
func NewTraceID() string {
	var r [12]byte
	if _, err := rand.Read(r[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("1-%08x-%x", nowFunc().Unix(), r)
}

// NewSegmentID generates a string format of segment ID.
func NewSegmentID() string {
	var r [8]byte
	if _, err := rand.Read(r[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", r)
}

// ContextSegment return the segment of current context.
// It returns nil if ctx has no segment.
func ContextSegment(ctx context.Context) *Segment {
	if ctx == nil {
		return nil
	}
	seg, _ := ctx.Value(segmentContextKey).(*Segment)
	return seg
}

// ContextTraceID returns the trace ID of the segment in ctx.
// It returns an empty string if ctx has no segment.
func ContextTraceID(ctx context.Context) string {
	return ContextSegment(ctx).TraceID()
}

// WithSegment returns a new context with the existing segment.
func WithSegment(ctx context.Context, seg *Segment) context.Context {
	return context.WithValue(ctx, segmentContextKey, seg)
}

// BeginSegment creates a new root Segment for a given name and context.
// It starts a new trace.
//
// Caller should close the segment when the work is done.
func BeginSegment(ctx context.Context, name string) (context.Context, *Segment) {
	return BeginSegmentWithHeader(ctx, name, TraceHeader{})
}

// BeginSegmentWithHeader creates a new root Segment that continues the trace
// described by the upstream header h.
// If h has no trace ID, a new trace is started.
//
// Caller should close the segment when the work is done.
func BeginSegmentWithHeader(ctx context.Context, name string, h TraceHeader) (context.Context, *Segment) {
	client := ContextClient(ctx)
	if client.tracingName != "" {
		name = client.tracingName
	}
	name = sanitizeSegmentName(name)

	traceID := h.TraceID
	if traceID == "" {
		traceID = NewTraceID()
	}

	var sampled bool
	switch h.SamplingDecision {
	case SamplingDecisionSampled:
		sampled = true
	case SamplingDecisionNotSampled:
		sampled = false
	default:
		sampled = client.samplingStrategy.ShouldTrace(&sampling.Request{
			ServiceName: name,
		}).Sample
	}

	seg := &Segment{
		ctx:           ctx,
		name:          name,
		id:            NewSegmentID(),
		traceID:       traceID,
		startTime:     nowFunc(),
		traceHeader:   h,
		sampled:       sampled,
		totalSegments: 1,
	}
	seg.root = seg
	xraylog.Debugf(ctx, "Beginning segment named %s", name)
	return WithSegment(ctx, seg), seg
}

// BeginSubsegment creates a new Segment for a given name and context.
// If ctx has no segment, the context missing strategy of the client is applied,
// and a nil segment is returned.
//
// Caller should close the segment when the work is done.
func BeginSubsegment(ctx context.Context, name string) (context.Context, *Segment) {
	name = sanitizeSegmentName(name)
	parent := ContextSegment(ctx)
	if parent == nil {
		ContextClient(ctx).ctxmissingStrategy.ContextMissing(
			ctx, fmt.Sprintf("failed to begin subsegment named %q: segment cannot be found", name),
		)
		return ctx, nil
	}

	root := parent.root
	seg := &Segment{
		ctx:       ctx,
		name:      name,
		id:        NewSegmentID(),
		parent:    parent,
		root:      root,
		traceID:   parent.traceID,
		startTime: nowFunc(),
	}

	root.mu.Lock()
	defer root.mu.Unlock()
	if parent != root {
		parent.mu.Lock()
		defer parent.mu.Unlock()
	}
	root.totalSegments++
	parent.subsegments = append(parent.subsegments, seg)

	xraylog.Debugf(ctx, "Beginning subsegment named %s", name)
	return WithSegment(ctx, seg), seg
}

type errorPanic struct {
	err interface{}
}

func (err *errorPanic) Error() string {
	return fmt.Sprintf("%T: %v", err.err, err.err)
}

// Close closes the segment.
// When Close is deferred and the function panics, the panic is recorded and re-raised.
func (seg *Segment) Close() {
	if seg == nil {
		return
	}
	if seg.parent != nil {
		xraylog.Debugf(seg.ctx, "Closing subsegment named %s", seg.name)
	} else {
		xraylog.Debugf(seg.ctx, "Closing segment named %s", seg.name)
	}
	err := recover()
	if err != nil {
		seg.AddError(&errorPanic{err: err})
	}
	if seg.close() {
		seg.emit()
	}
	if err != nil {
		panic(err)
	}
}

// close marks seg as completed. It reports false if seg is already closed.
func (seg *Segment) close() bool {
	root := seg.root
	root.mu.Lock()
	defer root.mu.Unlock()
	if seg != root {
		seg.mu.Lock()
		defer seg.mu.Unlock()
	}
	if !seg.endTime.IsZero() {
		return false
	}
	root.closedSegments++
	seg.endTime = nowFunc()
	return true
}

func (seg *Segment) isRoot() bool {
	return seg.parent == nil
}

func (seg *Segment) inProgress() bool {
	return seg.endTime.IsZero()
}

func (seg *Segment) emit() {
	if !seg.root.sampled {
		return
	}
	ContextClient(seg.ctx).Emit(seg.ctx, seg)
}

// TraceID returns the trace ID of the segment.
func (seg *Segment) TraceID() string {
	if seg == nil {
		return ""
	}
	return seg.traceID
}

// ID returns the ID of the segment.
func (seg *Segment) ID() string {
	if seg == nil {
		return ""
	}
	return seg.id
}

// Name returns the name of the segment.
func (seg *Segment) Name() string {
	if seg == nil {
		return ""
	}
	return seg.name
}

// Sampled reports whether the trace of the segment is sent to the daemon.
func (seg *Segment) Sampled() bool {
	if seg == nil {
		return false
	}
	return seg.root.sampled
}

func newExceptionID() string {
	var r [8]byte
	if _, err := rand.Read(r[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", r)
}

// AddError sets error.
// It reports whether err is not nil.
func (seg *Segment) AddError(err error) bool {
	if err == nil {
		return false
	}
	if seg == nil {
		return true
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()

	seg.fault = true
	if seg.cause == nil {
		seg.cause = &schema.Cause{}
		seg.cause.WorkingDirectory, _ = os.Getwd()
	}
	seg.cause.Exceptions = append(seg.cause.Exceptions, schema.Exception{
		ID:      newExceptionID(),
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	})
	return true
}

// AddError sets the segment of the current context an error.
func AddError(ctx context.Context, err error) bool {
	return ContextSegment(ctx).AddError(err)
}

// SetError sets error flag.
func (seg *Segment) SetError() {
	if seg == nil {
		return
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	seg.error = true
}

// SetThrottle sets throttle flag.
func (seg *Segment) SetThrottle() {
	if seg == nil {
		return
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	seg.throttle = true
}

// SetFault sets fault flag.
func (seg *Segment) SetFault() {
	if seg == nil {
		return
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	seg.fault = true
}

// SetNamespace sets namespace
func (seg *Segment) SetNamespace(namespace string) {
	if seg == nil {
		return
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	seg.namespace = namespace
}

// SetHTTPRequest sets the information of the HTTP request.
func (seg *Segment) SetHTTPRequest(req *schema.HTTPRequest) {
	if seg == nil {
		return
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.http == nil {
		seg.http = &schema.HTTP{}
	}
	seg.http.Request = req
}

// SetHTTPResponse sets the information of the HTTP response.
func (seg *Segment) SetHTTPResponse(resp *schema.HTTPResponse) {
	if seg == nil {
		return
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.http == nil {
		seg.http = &schema.HTTP{}
	}
	seg.http.Response = resp
}

// AddAnnotation adds an indexed annotation.
// value should be a string, a number or a boolean.
func (seg *Segment) AddAnnotation(key string, value interface{}) {
	if seg == nil {
		return
	}
	switch value.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
	default:
		xraylog.Warnf(seg.ctx, "xray: annotation %q has unsupported type %T", key, value)
		return
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.annotations == nil {
		seg.annotations = map[string]interface{}{}
	}
	seg.annotations[key] = value
}

// AddMetadata adds metadata.
func (seg *Segment) AddMetadata(key string, value interface{}) {
	seg.AddMetadataToNamespace("default", key, value)
}

// AddMetadataToNamespace adds metadata into the namespace.
func (seg *Segment) AddMetadataToNamespace(namespace, key string, value interface{}) {
	if seg == nil {
		return
	}
	seg.mu.Lock()
	defer seg.mu.Unlock()
	if seg.metadata == nil {
		seg.metadata = map[string]interface{}{}
	}
	ns, ok := seg.metadata[namespace].(map[string]interface{})
	if !ok {
		ns = map[string]interface{}{}
		seg.metadata[namespace] = ns
	}
	ns[key] = value
}

// AddMetadata adds metadata to the segment of the current context.
func AddMetadata(ctx context.Context, key string, value interface{}) {
	ContextSegment(ctx).AddMetadata(key, value)
}

// DownstreamHeader returns the trace header that should be sent to the
// downstream services called in ctx.
func DownstreamHeader(ctx context.Context) TraceHeader {
	seg := ContextSegment(ctx)
	if seg == nil {
		return TraceHeader{}
	}
	h := TraceHeader{
		TraceID:          seg.traceID,
		ParentID:         seg.id,
		SamplingDecision: SamplingDecisionNotSampled,
		AdditionalData:   seg.root.traceHeader.AdditionalData,
	}
	if seg.root.sampled {
		h.SamplingDecision = SamplingDecisionSampled
	}
	return h
}

const maxSegmentNameLength = 200

// sanitizeSegmentName removes the characters X-Ray does not accept in segment names.
func sanitizeSegmentName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	var n int
	for _, r := range name {
		if n >= maxSegmentNameLength {
			break
		}
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || strings.ContainsRune(`_.:/%&#=+\-@`, r) {
			b.WriteRune(r)
			n++
		}
	}
	return b.String()
}
