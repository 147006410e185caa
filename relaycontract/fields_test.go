package relaycontract

import "testing"

func TestIsTerminalType(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"done", true},
		{"DONE", true},
		{"final", true},
		{"assistant_message_end", true},
		{"Stop", true},
		{"delta", false},
		{"", false},
		{"done ", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := IsTerminalType(tt.in); got != tt.want {
				t.Errorf("IsTerminalType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStreamDestroyedTexts_LowerCase(t *testing.T) {
	for _, s := range StreamDestroyedTexts() {
		for _, r := range s {
			if r >= 'A' && r <= 'Z' {
				t.Errorf("fragment %q must be lower case", s)
			}
		}
	}
}
