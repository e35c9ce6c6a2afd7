package composer

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"presence-agent/internal/core/domain"
	"presence-agent/internal/core/ports"
	"presence-agent/internal/prompt"
)

const maxImageBytes = 20 << 20

// ImagePipeline turns post text into an image: one call writes the image
// prompt, a second renders it. The steps run strictly in sequence.
type ImagePipeline struct {
	brain     ports.Brain
	character domain.Character
	width     int
	height    int
	count     int
	http      *http.Client
	maxBytes  int64
	logger    *slog.Logger
}

func NewImagePipeline(brain ports.Brain, character domain.Character, width, height, count int, client *http.Client, logger *slog.Logger) *ImagePipeline {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ImagePipeline{
		brain:     brain,
		character: character,
		width:     width,
		height:    height,
		count:     max(count, 1),
		http:      client,
		maxBytes:  maxImageBytes,
		logger:    logger,
	}
}

// Run enhances text into an image prompt and renders it.
func (p *ImagePipeline) Run(ctx context.Context, text string) ([][]byte, error) {
	enhanced, err := p.EnhancePrompt(ctx, text)
	if err != nil {
		return nil, err
	}
	return p.Generate(ctx, enhanced)
}

// EnhancePrompt writes a short visual description of text that contains the
// persona's appearance verbatim. When the model drops the appearance it is
// prepended so the rendered subject stays consistent.
func (p *ImagePipeline) EnhancePrompt(ctx context.Context, text string) (string, error) {
	subject := p.character.Subject()
	input, err := prompt.Render(prompt.ImagePrompt, prompt.ImageInput{
		Content: text,
		Subject: subject,
		Style:   p.character.Appearance.ImageStyle,
	})
	if err != nil {
		return "", fmt.Errorf("render image prompt: %w", err)
	}
	out, err := p.brain.GenerateText(ctx, input, ports.TierMedium, prompt.ImageSystem)
	if err != nil {
		return "", fmt.Errorf("%w: enhance prompt: %v", domain.ErrImageGeneration, err)
	}
	return p.withSubject(stripPromptTags(out))
}

func (p *ImagePipeline) withSubject(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty image prompt", domain.ErrImageGeneration)
	}
	subject := p.character.Subject()
	if subject != "" && !strings.Contains(s, subject) {
		p.logger.Warn("image_prompt_missing_subject", "subject", subject)
		s = subject + ". " + s
	}
	return s, nil
}

// Generate renders prompt and returns the decoded images. An unsuccessful or
// empty result is an error; there is no fallback.
func (p *ImagePipeline) Generate(ctx context.Context, imagePrompt string) ([][]byte, error) {
	res, err := p.brain.GenerateImage(ctx, domain.ImageRequest{
		Prompt: imagePrompt,
		Width:  p.width,
		Height: p.height,
		Count:  p.count,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrImageGeneration, err)
	}
	if !res.Success || len(res.Data) == 0 {
		return nil, fmt.Errorf("%w: no images returned", domain.ErrImageGeneration)
	}

	var images [][]byte
	for _, payload := range res.Data {
		if strings.TrimSpace(payload) == "" {
			continue
		}
		buf, err := p.decode(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrImageGeneration, err)
		}
		images = append(images, buf)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: empty image payload", domain.ErrImageGeneration)
	}
	p.logger.Info("image_generated", "count", len(images))
	return images, nil
}

// decode normalizes a remote URL or an inline base64 payload into bytes.
func (p *ImagePipeline) decode(ctx context.Context, payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://") {
		return p.fetch(ctx, payload)
	}
	return decodeInline(payload)
}

func (p *ImagePipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	buf, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(buf)) > p.maxBytes {
		return nil, fmt.Errorf("fetch image: larger than %d bytes", p.maxBytes)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("fetch image: empty body")
	}
	return buf, nil
}

func decodeInline(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i != -1 {
			payload = payload[i+1:]
		}
	}
	buf, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if buf, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("decode image: empty payload")
	}
	return buf, nil
}
