package xray

import (
	"runtime"

	"github.com/shogo82148/xray-dispatcher-go/xray/schema"
)

// Version records the current X-Ray Go SDK version.
const Version = "0.1.0"

// Type records which X-Ray SDK this is.
const Type = "xray-dispatcher-go"

// ServiceData is the metadata for the service.
var ServiceData = &schema.Service{
	Compiler:        runtime.Compiler,
	CompilerVersion: runtime.Version(),
}
