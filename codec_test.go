package imagepipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderRegistryTriesFactoriesInRegistrationOrder(t *testing.T) {
	var order []string
	r := NewDecoderRegistry(func(ctx DecodingContext) Decoder {
		order = append(order, "fallback")
		return &fakeDecoder{kind: KindStatic}
	})
	r.Register(func(ctx DecodingContext) Decoder {
		order = append(order, "first")
		return nil
	})
	r.Register(func(ctx DecodingContext) Decoder {
		order = append(order, "second")
		return &fakeDecoder{kind: KindVector}
	})

	d, err := r.Resolve(DecodingContext{})
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []string{"first", "second"}, order, "fallback must not run once a registered factory matches")
}

func TestDecoderRegistryFallsBackWhenNoFactoryMatches(t *testing.T) {
	called := false
	r := NewDecoderRegistry(func(ctx DecodingContext) Decoder {
		called = true
		return &fakeDecoder{kind: KindStatic}
	})
	r.Register(func(ctx DecodingContext) Decoder { return nil })

	d, err := r.Resolve(DecodingContext{})
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, called)
}

func TestDecoderRegistryReturnsErrNoDecoderYetWithNothingMatching(t *testing.T) {
	r := NewDecoderRegistry(func(ctx DecodingContext) Decoder { return nil })
	r.Register(func(ctx DecodingContext) Decoder { return nil })

	_, err := r.Resolve(DecodingContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoDecoderYet))
}

func TestDecoderRegistryWithNoFallbackReturnsErrNoDecoderYet(t *testing.T) {
	r := NewDecoderRegistry(nil)
	_, err := r.Resolve(DecodingContext{})
	assert.True(t, errors.Is(err, ErrNoDecoderYet))
}
