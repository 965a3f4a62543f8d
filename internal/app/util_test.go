package app

import (
	"testing"
)

func TestShortID_Util(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0x1234567890abcdef1234567890abcdef12345678", "0x1234…345678"},
		{"0x123456789012", "0x123456789012"}, // <= 14 chars
		{"shortstring", "shortstring"},
		{"exactly14chars", "exactly14chars"},
		{"fifteencharstr!", "fiftee…arstr!"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := shortID(tt.input)
			if result != tt.expected {
				t.Errorf("shortID(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDifference(t *testing.T) {
	tests := []struct {
		name     string
		a        []string
		b        []string
		expected []string
	}{
		{"disjoint", []string{"x", "y"}, []string{"z"}, []string{"x", "y"}},
		{"overlap", []string{"x", "y", "z"}, []string{"y"}, []string{"x", "z"}},
		{"subset", []string{"x"}, []string{"x", "y"}, nil},
		{"empty a", nil, []string{"x"}, nil},
		{"empty b", []string{"x"}, nil, []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := difference(tt.a, tt.b)
			if len(result) != len(tt.expected) {
				t.Fatalf("difference(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("difference(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
				}
			}
		})
	}
}
