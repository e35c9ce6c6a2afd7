package brain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"presence-agent/internal/core/ports"
)

func TestModelsForTier(t *testing.T) {
	assert.Equal(t, "gemini-2.5-flash-lite", modelsFor(ports.TierSmall)[0].Name)
	assert.Equal(t, "gemini-2.5-flash", modelsFor(ports.TierMedium)[0].Name)
	assert.Equal(t, "gemini-2.5-pro", modelsFor(ports.TierLarge)[0].Name)
	assert.Equal(t, modelsFor(ports.TierMedium), modelsFor("huge"))
}

func TestShouldFallback(t *testing.T) {
	assert.True(t, shouldFallback(errors.New("Error 429: Resource EXHAUSTED")))
	assert.True(t, shouldFallback(errors.New("model not found")))
	assert.False(t, shouldFallback(errors.New("invalid argument")))
}

func TestAspectRatio(t *testing.T) {
	assert.Equal(t, "1:1", aspectRatio(1024, 1024))
	assert.Equal(t, "16:9", aspectRatio(1920, 1080))
	assert.Equal(t, "3:4", aspectRatio(768, 1024))
	assert.Equal(t, "1:1", aspectRatio(0, 10))
}

func TestDataURI(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,aGk=", dataURI("", []byte("hi")))
	assert.Equal(t, "data:image/jpeg;base64,aGk=", dataURI("image/jpeg", []byte("hi")))
}

func TestQuotaPerMinuteAndDay(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	b := newGeminiBrain(func() time.Time { return now })
	cfg := modelConfig{Name: "m", RPM: 2, RPD: 3}

	for i := 0; i < 2; i++ {
		assert.True(t, b.canUseModel(cfg))
		b.recordUsage(cfg)
	}
	assert.False(t, b.canUseModel(cfg), "minute quota")

	now = now.Add(time.Minute)
	assert.True(t, b.canUseModel(cfg))
	b.recordUsage(cfg)
	now = now.Add(time.Minute)
	assert.False(t, b.canUseModel(cfg), "daily quota")

	now = now.Add(24 * time.Hour)
	assert.True(t, b.canUseModel(cfg))
}
