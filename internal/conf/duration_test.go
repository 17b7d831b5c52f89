package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(b))

	var d Duration
	require.NoError(t, json.Unmarshal(b, &d))
	assert.Equal(t, 90*time.Second, d.Std())
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"string", `"250ms"`, 250 * time.Millisecond, false},
		{"milliseconds number", `1500`, 1500 * time.Millisecond, false},
		{"null resets", `null`, 0, false},
		{"garbage string", `"soon"`, 0, true},
		{"bool", `true`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Duration(time.Hour)
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Std())
		})
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	var cfg struct {
		Timeout Duration `yaml:"timeout"`
		Delay   Duration `yaml:"delay"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 5s\ndelay: 200\n"), &cfg))
	assert.Equal(t, 5*time.Second, cfg.Timeout.Std())
	assert.Equal(t, 200*time.Millisecond, cfg.Delay.Std())

	err := yaml.Unmarshal([]byte("timeout: [1, 2]\n"), &cfg)
	assert.Error(t, err)
}
