package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/prismmesh/mapper"
)

func TestSpectrumBuilder(t *testing.T) {
	b := NewSpectrumBuilder("test:relay").
		Version("1.2.3").
		Wavelength("ping").
		Stream("tail").
		Requires("get", "url").
		Refraction("echo", "core:echo", "echo").
		MappedRefraction("fetch", "net:fetch", "get", mapper.Mapping{"url": "url"}, mapper.Mapping{"body": "body"})

	s := b.Build()
	assert.Equal(t, "test:relay", s.ID().String())
	assert.Equal(t, "1.2.3", s.Version)
	assert.Equal(t, []string{"ping", "tail", "get"}, s.Frequencies())

	w, ok := s.Wavelength("tail")
	require.True(t, ok)
	assert.True(t, w.Stream)

	w, ok = s.Wavelength("get")
	require.True(t, ok)
	require.NotNil(t, w.Input)
	assert.Equal(t, []string{"url"}, w.Input.Required)

	r, ok := s.Refraction("fetch")
	require.True(t, ok)
	assert.Equal(t, "url", r.Transpose["url"])

	// Build copies, so later chaining does not leak into earlier results.
	b.Wavelength("late")
	assert.Len(t, s.Wavelengths, 3)

	got, err := b.Source()()
	require.NoError(t, err)
	assert.Len(t, got.Wavelengths, 4)
}

func TestSpectrumBuilder_Panics(t *testing.T) {
	assert.Panics(t, func() { NewSpectrumBuilder("no-namespace") })
	assert.Panics(t, func() { NewSpectrumBuilder("test:dup").Wavelength("a").Wavelength("a").Build() })
}
