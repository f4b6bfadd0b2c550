// Package render turns a campaign's subject and body into per-recipient text.
package render

import (
	"errors"
	"regexp"
	"strings"

	"github.com/unclebandit/outreach-dispatch/internal/model"
)

// ErrEmptyBody is returned when a template renders to nothing.
var ErrEmptyBody = errors.New("rendered body is empty")

type Rendered struct {
	Subject string
	Body    string
}

// Renderer produces the final subject and body for one recipient.
type Renderer interface {
	Render(c *model.Campaign, r *model.Recipient) (Rendered, error)
}

// PlaceholderRenderer replaces {key} and {{key}} with recipient data.
// Unknown keys are left as written.
type PlaceholderRenderer struct{}

var _ Renderer = PlaceholderRenderer{}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}|\{([A-Za-z0-9_.\-]+)\}`)

func (PlaceholderRenderer) Render(c *model.Campaign, r *model.Recipient) (Rendered, error) {
	data := Fields(r)
	out := Rendered{
		Subject: RenderTemplate(c.Subject, data),
		Body:    RenderTemplate(c.BodyTemplate, data),
	}
	if strings.TrimSpace(out.Body) == "" {
		return out, ErrEmptyBody
	}
	return out, nil
}

// Fields merges built-in recipient fields with its personalization map.
// Personalization wins on conflicts.
func Fields(r *model.Recipient) map[string]string {
	data := map[string]string{
		"email":      r.Email,
		"name":       r.Name,
		"first_name": firstName(r.Name),
		"company":    r.Company,
	}
	for k, v := range r.Personalization {
		data[k] = v
	}
	return data
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func RenderTemplate(template string, data map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		m := placeholder.FindStringSubmatch(match)
		key := m[1]
		if key == "" {
			key = m[2]
		}
		if v, ok := data[key]; ok {
			return v
		}
		return match
	})
}
