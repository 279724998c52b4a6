package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"leadhero/internal/util"
	"leadhero/pkg/domain"
)

// Result is a generated analysis shown to the visitor before email capture.
type Result struct {
	Type     domain.ResultFormat `json:"type"`
	Text     string              `json:"text"`
	ImageURL string              `json:"imageUrl,omitempty"`
}

// Generate fetches rawURL and asks the configured provider for a result in
// the form's format. Inactive forms are only available to their owner.
func (a *App) Generate(ctx context.Context, formID, rawURL, sessionToken string) (Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !isWebURL(rawURL) {
		return Result{}, ErrInvalidURL
	}
	form, err := a.visibleForm(ctx, formID, sessionToken)
	if err != nil {
		return Result{}, err
	}
	resolved, err := a.content.Resolve(ctx, form.ID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve content: %w", err)
	}
	logger := util.LoggerFromContext(ctx).With("form_id", form.ID, "format", string(resolved.ResultFormat))

	if resolved.ResultFormat == domain.FormatImage {
		res, err := a.generateImage(ctx, form.ID, rawURL, resolved.SystemPrompt)
		a.recordGeneration(logger, resolved.ResultFormat, err)
		return res, err
	}

	excerpt := a.pages.Excerpt(ctx, rawURL)
	prompt := fmt.Sprintf("URL: %s\n\nContent:\n%s\n\nPlease provide your analysis and recommendations.", rawURL, excerpt)
	text, err := a.text.GenerateText(ctx, resolved.SystemPrompt, prompt)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	a.recordGeneration(logger, resolved.ResultFormat, err)
	if err != nil {
		return Result{}, err
	}
	return Result{Type: domain.FormatText, Text: text}, nil
}

func (a *App) generateImage(ctx context.Context, formID, rawURL, prompt string) (Result, error) {
	if a.images == nil {
		return Result{}, ErrImageUnavailable
	}
	imageURL, err := a.images.GenerateImage(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if a.mirror != nil {
		mirrored, err := a.mirror.Mirror(ctx, formID, util.NewID(), imageURL)
		if err != nil {
			// The provider URL still works for a while; keep it.
			util.LoggerFromContext(ctx).Warn("image mirror failed", "form_id", formID, "err", err)
		} else {
			imageURL = mirrored
		}
	}
	return Result{
		Type:     domain.FormatImage,
		Text:     "Generated based on: " + rawURL,
		ImageURL: imageURL,
	}, nil
}

func (a *App) recordGeneration(logger *slog.Logger, format domain.ResultFormat, err error) {
	if err != nil {
		a.metrics.Generated(string(format), "error")
		logger.Error("generation failed", "err", err)
		return
	}
	a.metrics.Generated(string(format), "ok")
	logger.Info("generation completed")
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
