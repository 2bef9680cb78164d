package imagepipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostUsesBitmapFootprintWhenImagePresent(t *testing.T) {
	c := ImageContainer{Image: &fakeBitmap{w: 10, h: 20, bpp: 4}, Data: []byte("ignored")}
	assert.Equal(t, int64(10*20*4), cost(c))
}

func TestCostFallsBackToDataLengthWithoutImage(t *testing.T) {
	c := ImageContainer{Data: []byte("0123456789")}
	assert.Equal(t, int64(10), cost(c))
}

func TestCostOfEmptyContainerIsZero(t *testing.T) {
	assert.Equal(t, int64(0), cost(ImageContainer{}))
}

func TestCacheTypeString(t *testing.T) {
	assert.Equal(t, "nil", CacheTypeNone.String())
	assert.Equal(t, "memory", CacheTypeMemory.String())
	assert.Equal(t, "disk", CacheTypeDisk.String())
}
