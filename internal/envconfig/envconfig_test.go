package envconfig

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want *Env
	}{
		{
			name: "default",
			env:  map[string]string{},
			want: Default(),
		},
		{
			name: "daemon address",
			env: map[string]string{
				"AWS_XRAY_DAEMON_ADDRESS": "tcp:127.0.0.1:3000 udp:127.0.0.1:3001",
			},
			want: &Env{
				DaemonAddress:  "tcp:127.0.0.1:3000 udp:127.0.0.1:3001",
				ContextMissing: "LOG_ERROR",
				LogLevel:       "info",
			},
		},
		{
			name: "normalized",
			env: map[string]string{
				"AWS_XRAY_CONTEXT_MISSING": " runtime_error ",
				"AWS_XRAY_LOG_LEVEL":       "DEBUG",
				"AWS_XRAY_DEBUG_MODE":      "yes",
				"AWS_XRAY_TRACING_NAME":    "my-app",
			},
			want: &Env{
				DaemonAddress:  "127.0.0.1:2000",
				ContextMissing: "RUNTIME_ERROR",
				DebugMode:      "yes",
				LogLevel:       "debug",
				TracingName:    "my-app",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{
				"AWS_XRAY_DAEMON_ADDRESS",
				"AWS_XRAY_CONTEXT_MISSING",
				"AWS_XRAY_DEBUG_MODE",
				"AWS_XRAY_LOG_LEVEL",
				"AWS_XRAY_TRACING_NAME",
			} {
				// t.Setenv restores the original value after the test.
				t.Setenv(key, "")
				if v, ok := tt.env[key]; ok {
					os.Setenv(key, v)
				} else {
					os.Unsetenv(key)
				}
			}
			got, err := Load()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
