package brain

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"presence-agent/internal/core/domain"
	"presence-agent/internal/core/ports"
)

const DefaultImageModel = "imagen-4.0-generate-001"

type modelConfig struct {
	Name string
	RPM  int
	RPD  int
}

var (
	flash     = modelConfig{Name: "gemini-2.5-flash", RPM: 10, RPD: 250}
	flashLite = modelConfig{Name: "gemini-2.5-flash-lite", RPM: 15, RPD: 1000}
	pro       = modelConfig{Name: "gemini-2.5-pro", RPM: 5, RPD: 100}
)

// tierModels lists models in fallback order per tier.
var tierModels = map[ports.ModelTier][]modelConfig{
	ports.TierSmall:  {flashLite, flash},
	ports.TierMedium: {flash, flashLite},
	ports.TierLarge:  {pro, flash, flashLite},
}

type GeminiBrain struct {
	Client     *genai.Client
	ImageModel string

	now          func() time.Time
	dailyCount   map[string]int
	minuteCount  map[string]int
	lastResetDay time.Time
	lastResetMin time.Time
	mu           sync.Mutex
}

func NewGeminiBrain(ctx context.Context, apiKey, imageModel string) (*GeminiBrain, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	b := newGeminiBrain(time.Now)
	b.Client = client
	if imageModel != "" {
		b.ImageModel = imageModel
	}
	return b, nil
}

func newGeminiBrain(now func() time.Time) *GeminiBrain {
	t := now()
	return &GeminiBrain{
		ImageModel:   DefaultImageModel,
		now:          now,
		dailyCount:   make(map[string]int),
		minuteCount:  make(map[string]int),
		lastResetDay: t,
		lastResetMin: t,
	}
}

var _ ports.Brain = (*GeminiBrain)(nil)

// GenerateText runs prompt on the first model of tier that is within quota,
// falling back to the next model on rate limits or missing models.
func (b *GeminiBrain) GenerateText(ctx context.Context, prompt string, tier ports.ModelTier, systemPrompt string) (string, error) {
	var config *genai.GenerateContentConfig
	if systemPrompt != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
	}

	var lastErr error
	for _, cfg := range modelsFor(tier) {
		if !b.canUseModel(cfg) {
			continue
		}

		result, err := b.Client.Models.GenerateContent(ctx, cfg.Name, genai.Text(prompt), config)
		if err != nil {
			if shouldFallback(err) {
				lastErr = err
				continue
			}
			return "", err
		}

		b.recordUsage(cfg)
		if text := result.Text(); text != "" {
			return text, nil
		}
		lastErr = fmt.Errorf("%s returned no text", cfg.Name)
	}

	return "", fmt.Errorf("all %s models failed: %w", tier, orQuota(lastErr))
}

// GenerateImage renders req with the image model. Images come back as base64
// data URIs so callers can treat them like any other inline payload.
func (b *GeminiBrain) GenerateImage(ctx context.Context, req domain.ImageRequest) (domain.ImageResult, error) {
	count := req.Count
	if count <= 0 {
		count = 1
	}
	resp, err := b.Client.Models.GenerateImages(ctx, b.ImageModel, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: int32(count),
		AspectRatio:    aspectRatio(req.Width, req.Height),
	})
	if err != nil {
		return domain.ImageResult{}, fmt.Errorf("generate image: %w", err)
	}

	var out domain.ImageResult
	for _, img := range resp.GeneratedImages {
		if img == nil || img.Image == nil || len(img.Image.ImageBytes) == 0 {
			continue
		}
		out.Data = append(out.Data, dataURI(img.Image.MIMEType, img.Image.ImageBytes))
	}
	out.Success = len(out.Data) > 0
	return out, nil
}

func modelsFor(tier ports.ModelTier) []modelConfig {
	if m, ok := tierModels[tier]; ok {
		return m
	}
	return tierModels[ports.TierMedium]
}

func shouldFallback(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "exhausted", "404", "not found"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

func orQuota(err error) error {
	if err == nil {
		return fmt.Errorf("local quota exhausted")
	}
	return err
}

// aspectRatio maps a pixel size onto the closest ratio the image API accepts.
func aspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1:1"
	}
	r := float64(width) / float64(height)
	best, bestDiff := "1:1", 1e9
	for _, c := range []struct {
		label string
		ratio float64
	}{
		{"1:1", 1}, {"3:4", 3.0 / 4}, {"4:3", 4.0 / 3}, {"9:16", 9.0 / 16}, {"16:9", 16.0 / 9},
	} {
		d := r - c.ratio
		if d < 0 {
			d = -d
		}
		if d < bestDiff {
			best, bestDiff = c.label, d
		}
	}
	return best
}

func dataURI(mime string, data []byte) string {
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func (b *GeminiBrain) canUseModel(cfg modelConfig) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if now.Year() != b.lastResetDay.Year() || now.YearDay() != b.lastResetDay.YearDay() {
		b.dailyCount = make(map[string]int)
		b.lastResetDay = now
	}
	if now.Sub(b.lastResetMin) >= time.Minute {
		b.minuteCount = make(map[string]int)
		b.lastResetMin = now
	}
	if b.dailyCount[cfg.Name] >= cfg.RPD {
		return false
	}
	if b.minuteCount[cfg.Name] >= cfg.RPM {
		return false
	}
	return true
}

func (b *GeminiBrain) recordUsage(cfg modelConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dailyCount[cfg.Name]++
	b.minuteCount[cfg.Name]++
}
