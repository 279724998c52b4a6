package content

import (
	"context"
	"fmt"
	"strings"

	"leadhero/pkg/domain"
)

// Source is the read side the resolver needs.
type Source interface {
	ListFormContent(ctx context.Context, formID string) ([]domain.FormContent, error)
	GetSettings(ctx context.Context, keys ...string) (map[string]string, error)
}

// Resolved is a form's effective content.
type Resolved struct {
	Fields          map[string]string   `json:"fields"`
	LoadingMessages [3]string           `json:"loadingMessages"`
	SystemPrompt    string              `json:"-"`
	ResultFormat    domain.ResultFormat `json:"resultFormat"`
}

// Resolver merges per-form overrides over the hardcoded defaults.
type Resolver struct {
	src Source
}

func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns every known field for formID. Blank form values fall back to
// the default. The system prompt is the global prompt for the result format
// followed by the form fragment; when both are blank the built-in default for
// the format is used.
func (r *Resolver) Resolve(ctx context.Context, formID string) (Resolved, error) {
	items, err := r.src.ListFormContent(ctx, formID)
	if err != nil {
		return Resolved{}, fmt.Errorf("list form content: %w", err)
	}
	fields := Defaults()
	for _, it := range items {
		if !IsKnownKey(it.Key) || strings.TrimSpace(it.Value) == "" {
			continue
		}
		fields[it.Key] = it.Value
	}

	format := domain.ParseResultFormat(strings.TrimSpace(fields[KeyResultFormat]))
	fields[KeyResultFormat] = string(format)

	settingKey, fallback := SettingGlobalTextPrompt, DefaultTextPrompt
	if format == domain.FormatImage {
		settingKey, fallback = SettingGlobalImagePrompt, DefaultImagePrompt
	}
	settings, err := r.src.GetSettings(ctx, settingKey)
	if err != nil {
		return Resolved{}, fmt.Errorf("get settings: %w", err)
	}

	return Resolved{
		Fields: fields,
		LoadingMessages: [3]string{
			fields[KeyLoadingMessage1],
			fields[KeyLoadingMessage2],
			fields[KeyLoadingMessage3],
		},
		SystemPrompt: combinePrompts(settings[settingKey], fields[KeySystemPrompt], fallback),
		ResultFormat: format,
	}, nil
}

func combinePrompts(global, fragment, fallback string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{global, fragment} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, "\n\n")
}

// Public drops the prompt fragment so the content can be served to visitors.
func (r Resolved) Public() Resolved {
	fields := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		if k == KeySystemPrompt {
			continue
		}
		fields[k] = v
	}
	r.Fields = fields
	r.SystemPrompt = ""
	return r
}
