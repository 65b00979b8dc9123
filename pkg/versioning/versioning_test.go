package versioning

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTriple(t *testing.T) {
	t.Run("should parse a dotted triple", func(t *testing.T) {
		triple, ok := ParseTriple("2.3.10")
		assert.True(t, ok)
		assert.Equal(t, Triple{Major: 2, Minor: 3, Patch: 10}, triple)
	})

	t.Run("should reject anything but three numeric parts", func(t *testing.T) {
		for _, v := range []string{"", "1", "1.2", "1.2.3.4", "1.2.x", "1..3", "v1.2.3", "1.2.-3", "20240101_120000"} {
			_, ok := ParseTriple(v)
			assert.False(t, ok, v)
		}
	})
}

func TestCompare(t *testing.T) {
	t.Run("should compare triples numerically", func(t *testing.T) {
		assert.Equal(t, 1, Compare("1.10.0", "1.9.0"))
		assert.Equal(t, -1, Compare("1.0.9", "1.1.0"))
		assert.Equal(t, 1, Compare("10.0.0", "9.9.9"))
		assert.Equal(t, 0, Compare("1.2.3", "1.2.3"))
	})

	t.Run("should compare timestamps as strings", func(t *testing.T) {
		assert.Equal(t, 1, Compare("20250102_000000", "20250101_235959"))
	})

	t.Run("should fall back to string order for mixed schemes", func(t *testing.T) {
		assert.Equal(t, 1, Compare("2.0.0", "1.0.0.1"))
		assert.Equal(t, -1, Compare("1.0.0", "20250101_000000"))
	})
}

func TestLatest(t *testing.T) {
	t.Run("should pick the numerically highest triple regardless of insertion order", func(t *testing.T) {
		latest, ok := Latest([]string{"1.0.0", "1.1.0", "1.0.9"})
		assert.True(t, ok)
		assert.Equal(t, "1.1.0", latest)
	})

	t.Run("should rank 1.10.0 above 1.9.0", func(t *testing.T) {
		latest, ok := Latest([]string{"1.9.0", "1.10.0", "1.2.0"})
		assert.True(t, ok)
		assert.Equal(t, "1.10.0", latest)
	})

	t.Run("should report an empty list", func(t *testing.T) {
		_, ok := Latest(nil)
		assert.False(t, ok)
	})
}

func TestNext(t *testing.T) {
	t.Run("should minor bump the latest triple when no base is given", func(t *testing.T) {
		assert.Equal(t, "2.4.0", Next("", "2.3.1", true))
	})

	t.Run("should patch bump a triple base", func(t *testing.T) {
		assert.Equal(t, "2.3.2", Next("2.3.1", "9.9.9", true))
	})

	t.Run("should start at 1.0.0 for a form without versions", func(t *testing.T) {
		assert.Equal(t, "1.0.0", Next("", "", false))
	})

	t.Run("should append .1 to a non-triple base", func(t *testing.T) {
		assert.Equal(t, "20250101_120000.1", Next("20250101_120000", "", false))
	})

	t.Run("should append .1 to a non-triple latest", func(t *testing.T) {
		assert.Equal(t, "20250101_120000.1", Next("", "20250101_120000", true))
	})

	t.Run("should append .1 when the patch cannot grow", func(t *testing.T) {
		base := fmt.Sprintf("1.2.%d", math.MaxInt)

		next := Next(base, "", false)

		assert.Equal(t, base+".1", next)
		assert.Equal(t, 1, Compare(next, base))
	})

	t.Run("should append .1 when the minor cannot grow", func(t *testing.T) {
		latest := fmt.Sprintf("1.%d.0", math.MaxInt)

		assert.Equal(t, latest+".1", Next("", latest, true))
	})
}

func TestTimestamp(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "20250304_040607", Timestamp(at))
}
