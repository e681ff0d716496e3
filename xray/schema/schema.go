// Package schema is a utils for generating AWS X-Ray Segment Documents.
// ref. https://docs.aws.amazon.com/xray/latest/devguide/xray-api-segmentdocuments.html
package schema

// Segment is a segment
type Segment struct {
	// Required

	// The logical name of the service that handled the request, up to 200 characters.
	// For example, your application's name or domain name.
	Name string `json:"name"`

	// ID is a 64-bit identifier for the segment,
	// unique among segments in the same trace, in 16 hexadecimal digits.
	ID string `json:"id"`

	// TraceID is a unique identifier that connects all segments and subsegments originating
	// from a single client request. Trace ID Format.
	TraceID string `json:"trace_id,omitempty"`

	// StartTime is a number that is the time the segment was created,
	// in floating point seconds in epoch time.
	StartTime float64 `json:"start_time"`

	// EndTime is a number that is the time the segment was closed.
	EndTime float64 `json:"end_time,omitempty"`

	// InProgress is a boolean, set to true instead of specifying an end_time to record that a segment is started, but is not complete.
	InProgress bool `json:"in_progress,omitempty"`

	// Optional

	// ParentID is a subsegment ID you specify if the request originated from an instrumented application.
	ParentID string `json:"parent_id,omitempty"`

	// Type is "subsegment" for independent subsegments.
	Type string `json:"type,omitempty"`

	// Namespace is "aws" for AWS SDK calls; "remote" for other downstream calls.
	Namespace string `json:"namespace,omitempty"`

	// Service is information about your application.
	Service *Service `json:"service,omitempty"`

	// HTTP is an object with information about the original HTTP request.
	HTTP *HTTP `json:"http,omitempty"`

	// Error indicates that a client error occurred (response status code was 4XX Client Error).
	Error bool `json:"error,omitempty"`

	// Throttle indicates that a request was throttled (response status code was 429 Too Many Requests).
	Throttle bool `json:"throttle,omitempty"`

	// Fault indicates that a server error occurred (response status code was 5XX Server Error).
	Fault bool `json:"fault,omitempty"`

	// Cause is the error information.
	Cause *Cause `json:"cause,omitempty"`

	// Annotations is an object with key-value pairs that you want X-Ray to index for search.
	Annotations map[string]interface{} `json:"annotations,omitempty"`

	// Metadata is an object with any additional data that you want to store in the segment.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// AWS is the AWS-specific information.
	AWS AWS `json:"aws,omitempty"`

	// Subsegments is an array of subsegment objects.
	Subsegments []*Segment `json:"subsegments,omitempty"`
}

// Service is information about your application.
type Service struct {
	// Version is a string that identifies the version of your application that served the request.
	Version string `json:"version,omitempty"`

	// Compiler is the name of the compiler.
	Compiler string `json:"compiler,omitempty"`

	// CompilerVersion is the version of the compiler.
	CompilerVersion string `json:"compiler_version,omitempty"`
}

// HTTP is information about the original HTTP request.
type HTTP struct {
	Request  *HTTPRequest  `json:"request,omitempty"`
	Response *HTTPResponse `json:"response,omitempty"`
}

// HTTPRequest is information about a request.
type HTTPRequest struct {
	// Method is the request method. For example, GET.
	Method string `json:"method,omitempty"`

	// URL is the full URL of the request.
	URL string `json:"url,omitempty"`

	// UserAgent is the user agent string from the requester's client.
	UserAgent string `json:"user_agent,omitempty"`

	// ClientIP is the IP address of the requester.
	ClientIP string `json:"client_ip,omitempty"`

	// Traced indicates that the downstream call is to another traced service.
	Traced bool `json:"traced,omitempty"`
}

// HTTPResponse is information about a response.
type HTTPResponse struct {
	// Status is the HTTP status of the response.
	Status int `json:"status,omitempty"`

	// ContentLength is the length of the response body in bytes.
	ContentLength int64 `json:"content_length,omitempty"`
}

// Cause is the error information.
type Cause struct {
	// WorkingDirectory is the full path of the working directory when the exception occurred.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Exceptions is the array of exception objects.
	Exceptions []Exception `json:"exceptions,omitempty"`
}

// Exception is the detailed information about an error.
type Exception struct {
	// ID is a 64-bit identifier for the exception, in 16 hexadecimal digits.
	ID string `json:"id"`

	// Message is the exception message.
	Message string `json:"message,omitempty"`

	// Type is the exception type.
	Type string `json:"type,omitempty"`

	// Remote indicates that the exception was caused by an error returned by a downstream service.
	Remote bool `json:"remote,omitempty"`
}

// AWS is the AWS-specific information.
type AWS map[string]interface{}

// SetXRay sets the information of the SDK that records the segment.
func (aws AWS) SetXRay(xray *XRay) {
	aws.set("xray", xray)
}

func (aws AWS) set(key string, value interface{}) {
	if value == nil {
		delete(aws, key)
		return
	}
	aws[key] = value
}

// XRay is the information of the SDK.
type XRay struct {
	Version string `json:"sdk_version,omitempty"`
	Type    string `json:"sdk,omitempty"`
}
