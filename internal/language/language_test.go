package language

import "testing"

func TestToISO2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// 2-letter codes pass through
		{"en", "en"},
		{"EN", "en"},
		{"es", "es"},
		// unknown 2-letter codes still pass through
		{"xx", "xx"},
		// 3-letter codes convert
		{"eng", "en"},
		{"fra", "fr"},
		{"fre", "fr"},
		{"ger", "de"},
		{"chi", "zh"},
		{"tur", "tr"},
		// word forms
		{"english", "en"},
		{"Spanish", "es"},
		{" ukrainian ", "uk"},
		// unrecognized long input
		{"klingon", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ToISO2(tt.input); got != tt.expected {
			t.Errorf("ToISO2(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en", "English"},
		{"eng", "English"},
		{"japanese", "Japanese"},
		{"", "Unknown"},
		{"  ", "Unknown"},
		{"xq", "XQ"},
	}
	for _, tt := range tests {
		if got := DisplayName(tt.input); got != tt.expected {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
