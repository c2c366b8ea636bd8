package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testParams struct {
	MaxOpenConns int               `mapstructure:"max_open_conns"`
	ConnLifetime time.Duration     `mapstructure:"conn_max_lifetime"`
	Settings     map[string]string `mapstructure:"settings"`
}

func TestDecodeParams(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]any
		want    testParams
		wantErr bool
	}{
		{
			name:  "nil params leaves defaults",
			input: nil,
			want:  testParams{MaxOpenConns: 1},
		},
		{
			name: "weakly typed values",
			input: map[string]any{
				"max_open_conns":    "4",
				"conn_max_lifetime": "5m",
				"settings":          map[string]any{"threads": "2"},
			},
			want: testParams{
				MaxOpenConns: 4,
				ConnLifetime: 5 * time.Minute,
				Settings:     map[string]string{"threads": "2"},
			},
		},
		{
			name:    "unknown key",
			input:   map[string]any{"max_open_con": 4},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testParams{MaxOpenConns: 1}
			err := DecodeParams(tt.input, &got)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
