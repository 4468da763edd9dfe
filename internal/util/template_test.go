package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	vals := map[string]string{"token": "abc", "user.name": "ada"}
	resolve := func(expr string) (string, error) {
		v, ok := vals[expr]
		if !ok {
			return "", errors.New("missing " + expr)
		}
		return v, nil
	}

	out, err := RenderTemplate("Bearer ${token}", resolve)
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", out)

	out, err = RenderTemplate("${user.name} / ${ token }!", resolve)
	require.NoError(t, err)
	assert.Equal(t, "ada / abc!", out)

	out, err = RenderTemplate("plain", resolve)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = RenderTemplate("cost $${token}", resolve)
	require.NoError(t, err)
	assert.Equal(t, "cost ${token}", out)

	_, err = RenderTemplate("${nope}", resolve)
	assert.EqualError(t, err, "missing nope")

	_, err = RenderTemplate("broken ${token", resolve)
	assert.Error(t, err)

	_, err = RenderTemplate("${}", resolve)
	assert.Error(t, err)
}
