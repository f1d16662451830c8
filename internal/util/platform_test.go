package util

import "testing"

func TestStripPort(t *testing.T) {
	tests := map[string]string{
		"192.168.1.4:5029": "192.168.1.4",
		"[::1]:5029":       "::1",
		"10.0.0.1":         "10.0.0.1",
		"node-3":           "node-3",
		"loopback":         "loopback",
	}
	for in, want := range tests {
		if got := StripPort(in); got != want {
			t.Errorf("StripPort(%q) = %q, want %q", in, got, want)
		}
	}
}
