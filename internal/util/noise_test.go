package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoiseDeterministic(t *testing.T) {
	a := NewNoise(42)
	b := NewNoise(42)

	for i := 0; i < 50; i++ {
		x, y := float64(i)*0.37, float64(i)*-0.11
		assert.Equal(t, a.Noise2D(x, y), b.Noise2D(x, y))
	}
}

func TestNoiseRange(t *testing.T) {
	n := NewNoise(7)
	for x := -20; x < 20; x++ {
		for y := -20; y < 20; y++ {
			v := n.Noise2D(float64(x)*0.13, float64(y)*0.17)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
	assert.Equal(t, int64(7), n.Seed())
}
