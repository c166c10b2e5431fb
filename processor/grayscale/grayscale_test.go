package grayscale

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L1ghtError/LimbWorker/errors"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 5), B: 40, A: 255})
		}
	}
	return img
}

func TestGrayscale_ConvertsWithMonotonicProgress(t *testing.T) {
	c, err := New(1).AllocateContainer()
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))

	h := c.TryAcquire()
	require.NotNil(t, h)
	defer c.Reclaim(h)

	var reports []float32
	out, err := h.Process(context.Background(), gradient(8, 25), func(p float32) { reports = append(reports, p) })
	require.NoError(t, err)

	gray, ok := out.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 8, 25), gray.Bounds())

	require.NotEmpty(t, reports)
	for i := 1; i < len(reports); i++ {
		assert.Greater(t, reports[i], reports[i-1])
	}
	assert.Equal(t, float32(1), reports[len(reports)-1])
}

func TestGrayscale_Exhaustion(t *testing.T) {
	c, _ := New(2).AllocateContainer()
	require.NoError(t, c.Init(context.Background()))

	h1 := c.TryAcquire()
	h2 := c.TryAcquire()
	require.NotNil(t, h1)
	require.NotNil(t, h2)
	assert.Nil(t, c.TryAcquire())

	c.Reclaim(h2)
	assert.NotNil(t, c.TryAcquire())
}

func TestGrayscale_DoubleInit(t *testing.T) {
	c, _ := New(1).AllocateContainer()
	require.NoError(t, c.Init(context.Background()))
	assert.ErrorIs(t, c.Init(context.Background()), errors.ErrAlreadyExists)
	c.Deinit()
	c.Deinit()
	assert.Nil(t, c.TryAcquire())
}

func TestGrayscale_Cancelled(t *testing.T) {
	c, _ := New(1).AllocateContainer()
	require.NoError(t, c.Init(context.Background()))
	h := c.TryAcquire()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Process(ctx, gradient(4, 4), nil)
	assert.ErrorIs(t, err, errors.ErrAborted)
}

func TestGrayscale_EmptyImage(t *testing.T) {
	c, _ := New(1).AllocateContainer()
	require.NoError(t, c.Init(context.Background()))
	_, err := c.TryAcquire().Process(context.Background(), image.NewRGBA(image.Rectangle{}), nil)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}
