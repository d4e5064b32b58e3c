package testgen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/llm"
)

const maxConcurrentImageReads = 4

// ImageSource reads uploaded images by name.
type ImageSource interface {
	ReadAll(name string) ([]byte, error)
}

// GenerateInput is the request for a fresh test case list.
type GenerateInput struct {
	Background     string
	Requirements   string
	AdditionalInfo string
	// Images names blobs to attach as mocks. Optional.
	Images []string
}

// Generator produces test case lists from requirements and optional mocks.
type Generator struct {
	completer llm.Completer
	images    ImageSource
	cfg       Config
	logger    *slog.Logger
}

// NewGenerator creates a generator. images may be nil when image generation is not used.
func NewGenerator(c llm.Completer, images ImageSource, cfg Config, logger *slog.Logger) *Generator {
	return &Generator{completer: c, images: images, cfg: cfg, logger: loggerOrDefault(logger)}
}

// Generate returns a new test case list. With images it fails when none of
// them could be attached.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (domain.TestCaseList, error) {
	prompt := fmt.Sprintf("Application Overview: %s\n\nRequirements: %s\nAdditional Information: %s",
		in.Background, in.Requirements, orDefault(in.AdditionalInfo, notRequired))

	req := llm.Request{
		Op:          OpGenerate,
		Model:       g.cfg.Model,
		System:      generateInstruction,
		Schema:      llm.TestCaseListSchema(),
		Temperature: llm.Temperature(0.1),
		Timeout:     g.cfg.GenerateTimeout,
	}

	if len(in.Images) > 0 {
		parts, err := g.loadImages(ctx, in.Images)
		if err != nil {
			return domain.TestCaseList{}, err
		}
		if len(parts) == 0 {
			return domain.TestCaseList{}, apperr.New(apperr.KindGeneration,
				fmt.Sprintf("none of the %d images could be loaded", len(in.Images)))
		}
		req.Op = OpGenerateImages
		req.System = generateWithImagesInstruction
		prompt += fmt.Sprintf("\nAnalyze all %d provided image(s)", len(parts))
		req.Parts = append(parts, llm.TextPart(prompt))
	} else {
		req.Parts = []llm.Part{llm.TextPart(prompt)}
	}

	var list domain.TestCaseList
	if err := llm.CompleteJSON(ctx, g.completer, req, &list); err != nil {
		return domain.TestCaseList{}, err
	}
	if err := checkList(req.Op, list); err != nil {
		return domain.TestCaseList{}, err
	}

	g.logger.Info("Test cases generated",
		"op", req.Op,
		"count", len(list.TestCases),
		"images", req.ImageCount(),
	)
	return list.Normalize(), nil
}

// loadImages reads every named image concurrently and keeps input order.
// Unreadable or non-image blobs are skipped with a warning.
func (g *Generator) loadImages(ctx context.Context, names []string) ([]llm.Part, error) {
	if g.images == nil {
		return nil, apperr.New(apperr.KindGeneration, "image generation is not configured")
	}

	slots := make([]*llm.Part, len(names))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentImageReads)
	for i, name := range names {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			data, err := g.images.ReadAll(name)
			if err != nil {
				g.logger.Warn("Skipping unreadable image", "blob", name, "error", err)
				return nil
			}
			mt := mimetype.Detect(data)
			if !strings.HasPrefix(mt.String(), "image/") {
				g.logger.Warn("Skipping non-image upload", "blob", name, "mime_type", mt.String())
				return nil
			}
			part := llm.ImagePart(data, mt.String())
			slots[i] = &part
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, llm.Classify(ctx, "load_images", err)
	}

	parts := make([]llm.Part, 0, len(names))
	for _, p := range slots {
		if p != nil {
			parts = append(parts, *p)
		}
	}
	return parts, nil
}
