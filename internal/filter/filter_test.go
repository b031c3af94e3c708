package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record() map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"ip":        "10.0.0.1",
			"port":      float64(27016),
			"protocol":  "source",
			"timestamp": float64(1700000000),
			"labels":    map[string]any{"env": "prod"},
		},
		"packets": "",
		"server_info": map[string]any{
			"servertitle": "Chernarus PvE #1",
			"numplayers":  float64(12),
			"maxplayers":  float64(60),
			"online":      true,
			"gamename":    nil,
			"players":     []any{map[string]any{"name": "alice"}},
		},
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{`metadata.protocol == "source"`, true},
		{`server_info.numplayers > 10`, true},
		{`server_info.numplayers >= 60`, false},
		{`server_info.online && metadata.port == 27016`, true},
		{`server_info.servertitle.icontains("chernarus")`, true},
		{`server_info.gamename == null`, true},
		{`size(server_info.players) == 1`, true},
		{`metadata.labels.env == "prod"`, true},
		{`"region" in metadata.labels`, false},
		{`packets == ""`, true},
	}

	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			f, err := Compile(tc.expr)
			require.NoError(t, err)

			got, err := f.Match(record())
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, expr := range []string{
		`metadata.protocol ==`,
		`unknown_var == 1`,
		`"a" + "b"`,
		`42`,
	} {
		_, err := Compile(expr)
		assert.Error(t, err, expr)
	}
}

func TestMatchMissingSections(t *testing.T) {
	f, err := Compile(`size(metadata) == 0 && packets == ""`)
	require.NoError(t, err)

	got, err := f.Match(map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestMatchRuntimeError(t *testing.T) {
	f, err := Compile(`server_info.absent == 1`)
	require.NoError(t, err)

	_, err = f.Match(record())
	assert.Error(t, err)
	assert.Equal(t, `server_info.absent == 1`, f.String())
}
