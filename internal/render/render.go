// Package render resolves a named template plus a variable tree into
// concrete subject/html/text content. Rendering is pure: no I/O, and two
// calls with identical inputs produce byte-identical output, so a retry
// can safely re-render.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ltfpqrr/mailroom/internal/queue"
)

// tokenPattern matches {{path.to.field}} and {{path.to.field|default}}.
var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*)\s*(?:\|([^{}]*))?\}\}`)

// Rendered is the concrete content produced from a template.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// MissingInputError reports every required input absent from the variable
// tree, not just the first. Raised before rendering; a partial send is
// never attempted.
type MissingInputError struct {
	Template string
	Missing  []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("template %q missing required inputs: %s",
		e.Template, strings.Join(e.Missing, ", "))
}

// SystemVars are site-wide values merged into every render under the
// "system" tree.
type SystemVars struct {
	SiteURL      string
	AppName      string
	SupportEmail string
}

// Renderer renders templates against variable trees. Construct once and
// share; it holds no mutable state.
type Renderer struct {
	system map[string]any
}

func New(sys SystemVars) *Renderer {
	return &Renderer{
		system: map[string]any{
			"site_url":      sys.SiteURL,
			"app_name":      sys.AppName,
			"support_email": sys.SupportEmail,
		},
	}
}

// Render validates vars against the template's required inputs and then
// substitutes {{dotted.path}} tokens in subject, html, and text. Tokens
// may carry a default: {{user.nickname|there}}. Unresolved tokens without
// a default are left verbatim so they stay visible in audits.
func (r *Renderer) Render(tpl *queue.Template, vars map[string]any) (Rendered, error) {
	if err := r.validate(tpl, vars); err != nil {
		return Rendered{}, err
	}

	scope := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		scope[k] = v
	}
	if _, ok := scope["system"]; !ok {
		scope["system"] = r.system
	}

	return Rendered{
		Subject: substitute(tpl.SubjectPattern, scope),
		HTML:    substitute(tpl.HTMLPattern, scope),
		Text:    substitute(tpl.TextPattern, scope),
	}, nil
}

// validate collects every missing required input before failing.
func (r *Renderer) validate(tpl *queue.Template, vars map[string]any) error {
	required := tpl.RequiredInputs
	if len(required) == 0 {
		required = RequiredInputs(tpl.Category)
	}

	var missing []string
	for _, key := range required {
		if _, ok := lookup(vars, key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingInputError{Template: tpl.Name, Missing: missing}
	}
	return nil
}

func substitute(pattern string, scope map[string]any) string {
	if pattern == "" {
		return ""
	}
	return tokenPattern.ReplaceAllStringFunc(pattern, func(token string) string {
		groups := tokenPattern.FindStringSubmatch(token)
		path, fallback := groups[1], groups[2]

		if value, ok := lookup(scope, path); ok {
			return stringify(value)
		}
		if strings.Contains(token, "|") {
			return strings.TrimSpace(fallback)
		}
		return token
	})
}

// lookup descends a dotted path through nested maps.
func lookup(vars map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = vars
	for _, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

func stringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}
