// templates.go
//
// YAML-backed template catalog. The default catalog is embedded in the binary;
// LoadCatalog accepts any reader so deployments can ship their own copy.
package mail

import (
	_ "embed"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates string

// Template is one entry of the catalog.
type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Catalog maps template ids to templates.
type Catalog struct {
	Templates map[string]Template `yaml:"templates"`
}

// LoadCatalog decodes a YAML catalog. Every template must have a body.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding mail templates: %w", err)
	}
	if len(c.Templates) == 0 {
		return nil, fmt.Errorf("mail templates: catalog is empty")
	}
	for id, t := range c.Templates {
		if strings.TrimSpace(t.Body) == "" {
			return nil, fmt.Errorf("mail templates: %q has no body", id)
		}
	}
	return &c, nil
}

// DefaultCatalog returns the embedded catalog. Panics if the embedded YAML is invalid,
// which is a build defect rather than a runtime condition.
var DefaultCatalog = sync.OnceValue(func() *Catalog {
	c, err := LoadCatalog(strings.NewReader(defaultTemplates))
	if err != nil {
		panic(err)
	}
	return c
})

// Render resolves templateID and substitutes data into subject and body.
// An explicit subject overrides the template's own.
func (c *Catalog) Render(templateID, subject string, data map[string]string) (string, string, error) {
	t, ok := c.Templates[templateID]
	if !ok {
		return "", "", fmt.Errorf("unknown mail template %q", templateID)
	}
	if subject == "" {
		subject = t.Subject
	}
	return applyVars(subject, data), applyVars(t.Body, data), nil
}

// unresolvedPlaceholder matches any %%word%% placeholder left after substitution.
var unresolvedPlaceholder = regexp.MustCompile(`%%\w+%%`)

// applyVars substitutes %%key%% placeholders in tmpl using vars, then strips any
// that remain unresolved rather than leaving them in the output.
func applyVars(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "%%"+key+"%%", value)
	}
	substituted := strings.NewReplacer(pairs...).Replace(tmpl)
	return unresolvedPlaceholder.ReplaceAllString(substituted, "")
}
