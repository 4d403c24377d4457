package migration_test

import (
	"testing"

	. "github.com/pseudomuto/waypoint/pkg/migration"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		parts   []uint64
		wantErr bool
	}{
		{input: "1", parts: []uint64{1}},
		{input: "1.2", parts: []uint64{1, 2}},
		{input: "2.0.1", parts: []uint64{2, 0, 1}},
		{input: "20240810120000", parts: []uint64{20240810120000}},
		{input: "", wantErr: true},
		{input: "1..2", wantErr: true},
		{input: "1.a", wantErr: true},
		{input: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.parts, v.Parts)
			require.Equal(t, tt.input, v.Raw)
		})
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"1", "2", -1},
		{"2", "1", 1},
		{"1", "1", 0},
		{"1", "1.0", 0},
		{"1.0.0", "1", 0},
		{"1", "1.2", -1},
		{"1.2", "1.10", -1},
		{"2.0.1", "2.1", -1},
		{"10", "9", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			a, err := ParseVersion(tt.a)
			require.NoError(t, err)
			b, err := ParseVersion(tt.b)
			require.NoError(t, err)
			require.Equal(t, tt.expected, a.Compare(b))
			require.Equal(t, -tt.expected, b.Compare(a))
		})
	}
}

func TestVersionKey(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1", "1"},
		{"1.0", "1"},
		{"1.0.0", "1"},
		{"1.2", "1.2"},
		{"1.2.0", "1.2"},
		{"0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.expected, v.Key())
		})
	}
}
