package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize_Valid(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"", 0},
		{"0", 0},
		{"1024", 1024},
		{"100B", 100},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"25MB", 25_000_000},
		{"25mb", 25_000_000},
		{"10MiB", 10_485_760},
		{"1.5MB", 1_500_000},
		{" 2 GB ", 2_000_000_000},
		{"1GiB", 1_073_741_824},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseSize_Invalid(t *testing.T) {
	for _, input := range []string{"abc", "MB", "-1", "-5MB", "1TB"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSize(input)
			assert.Error(t, err)
		})
	}
}
