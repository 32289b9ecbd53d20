package protocol

import (
	"testing"
)

func TestSystemProtocolConstants(t *testing.T) {
	tests := []struct {
		name     string
		protocol ID
		expected string
	}{
		{"Rendezvous", Rendezvous, "/dep2p/sys/rendezvous/1.0.0"},
		{"Plaintext", Plaintext, "/dep2p/sys/plaintext/1.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.protocol) != tt.expected {
				t.Errorf("got %q, want %q", tt.protocol, tt.expected)
			}
			if !IsSystem(tt.protocol) {
				t.Errorf("IsSystem(%q) = false", tt.protocol)
			}
		})
	}
}

func TestIsSystem(t *testing.T) {
	if IsSystem("/dep2p/app/chat/1.0.0") {
		t.Error("app protocol reported as system")
	}
	if len(SystemProtocols()) != 2 {
		t.Errorf("SystemProtocols() = %d entries, want 2", len(SystemProtocols()))
	}
}
