// Package template renders argument placeholders in task command
// templates.
package template

import (
	"regexp"
	"strings"

	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Templater = (*Templater)(nil)

// placeholderRe matches `{{ name }}` expressions, whitespace optional.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Templater substitutes `{{ name }}` placeholders with argument values.
type Templater struct{}

// New creates a new Templater.
func New() *Templater {
	return &Templater{}
}

// Render substitutes every placeholder in template with its value from
// args. A placeholder without a bound argument is an error, as is any
// malformed `{{` expression left over after substitution.
func (t *Templater) Render(template string, args map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := args[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", zerr.With(zerr.New("template references unbound arguments"),
			"arguments", strings.Join(missing, ", "))
	}
	if i := strings.Index(out, "{{"); i >= 0 {
		return "", zerr.With(zerr.New("malformed template expression"),
			"expression", truncate(out[i:], 40))
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
