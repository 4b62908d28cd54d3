package compile

import (
	"testing"

	"github.com/nbirch/hublink/internal/protocol"
)

func TestSupports(t *testing.T) {
	tests := []struct {
		name string
		abi  protocol.ABIVersion
		want bool
	}{
		{"abi5", protocol.ABI5, true},
		{"abi6", protocol.ABI6, true},
		{"unknown", protocol.ABIUnknown, false},
		{"future", protocol.ABIVersion(9), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Supports(tt.abi); got != tt.want {
				t.Errorf("Supports(%d) = %v, want %v", int(tt.abi), got, tt.want)
			}
		})
	}
}
