package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFenced(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		err  error
	}{
		{name: "plain", in: "```json\n{\"a\":1}\n```", want: "{\"a\":1}\n"},
		{name: "surrounding text", in: "Here:\n```json\n{\"a\":1}\n```\nDone", want: "{\"a\":1}\n"},
		{name: "first block wins", in: "```json\n1\n```\n```json\n2\n```", want: "1\n"},
		{name: "trailing blank lines", in: "```json\n{}\n\n\n```", want: "{}\n"},
		{name: "no fence", in: "{\"a\":1}", err: ErrNoFencedBlock},
		{name: "unterminated", in: "```json\n{\"a\":1}", err: ErrNoFencedBlock},
		{name: "empty block", in: "```json\n  \n```", err: ErrEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractFenced(tt.in)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFenceRoundTrip(t *testing.T) {
	got, err := ExtractFenced("prefix " + Fence(`{"x":"y"}`))
	require.NoError(t, err)
	assert.Equal(t, "{\"x\":\"y\"}\n", got)
}
