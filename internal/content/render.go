// Package content produces the bytes of generated files and fetches remote assets.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"regexp"
	"strings"
	texttemplate "text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/splax/sitedeploy/internal/domain"
)

// Site is everything a deploy's generated files are rendered from.
type Site struct {
	ProjectName string
	// SiteID names the site inside deploy scripts. Only [a-z0-9-] survive; it
	// falls back to ProjectName.
	SiteID      string
	Description string
	Domain      string
	Theme       domain.Theme
	GeneratedAt time.Time
}

// Renderer renders generated and literal manifest entries for one site.
type Renderer struct {
	data pageData
}

type pageData struct {
	ProjectName string
	SiteID      string
	DisplayName string
	Description string
	Domain      string
	BaseURL     string
	Date        string
	Timestamp   int64
	MetaTitle   string
	MetaDesc    string
	Keywords    string
	CompanyName string
	Language    string
	Colors      domain.Palette
	Content     domain.Content
}

// NewRenderer prepares a renderer for site. Theme defaults are applied here.
func NewRenderer(site Site) *Renderer {
	theme := site.Theme.WithDefaults()
	generated := site.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	content := theme.Content
	data := pageData{
		ProjectName: site.ProjectName,
		SiteID:      firstNonEmpty(shellSafe(firstNonEmpty(site.SiteID, site.ProjectName), "[a-z0-9-]"), "site"),
		DisplayName: DisplayName(site.ProjectName, theme.Language),
		Description: site.Description,
		Domain:      site.Domain,
		BaseURL:     "https://example.com",
		Date:        generated.UTC().Format("2006-01-02"),
		Timestamp:   generated.UnixMilli(),
		MetaTitle:   firstNonEmpty(content.Meta.Title, site.ProjectName),
		MetaDesc:    firstNonEmpty(content.Meta.Description, site.Description),
		Keywords:    content.Meta.Keywords,
		CompanyName: firstNonEmpty(content.Header.Title, site.ProjectName),
		Language:    theme.Language,
		Colors:      theme.Colors,
		Content:     content,
	}
	if site.Domain != "" {
		data.BaseURL = "https://" + site.Domain
	}
	return &Renderer{data: data}
}

// Content returns the bytes of a generated or literal entry.
func (r *Renderer) Content(_ context.Context, item domain.FileDescriptor) ([]byte, error) {
	switch item.Kind {
	case domain.SourceLiteral:
		return []byte(item.Ref), nil
	case domain.SourceGenerated:
		return r.render(item)
	default:
		return nil, fmt.Errorf("content: %s entries are not rendered", item.Kind)
	}
}

func (r *Renderer) render(item domain.FileDescriptor) ([]byte, error) {
	switch item.Ref {
	case domain.TemplateHTML:
		return executeHTML(indexTemplate, r.data)
	case domain.TemplateCSS:
		return executeText(stylesTemplate, r.data)
	case domain.TemplateJS:
		return []byte(scriptsJS), nil
	case domain.TemplateSitemap:
		return executeText(sitemapTemplate, r.data)
	case domain.TemplateRobots:
		return executeText(robotsTemplate, r.data)
	case domain.TemplateManifest:
		return r.webManifest()
	case domain.TemplateReadme:
		return executeText(readmeTemplate, r.data)
	case domain.TemplateScript:
		return r.deployScript(item)
	default:
		return nil, fmt.Errorf("content: unknown template %q", item.Ref)
	}
}

func (r *Renderer) webManifest() ([]byte, error) {
	manifest := map[string]any{
		"name":             r.data.DisplayName,
		"short_name":       r.data.ProjectName,
		"description":      r.data.DisplayName + " - Professional Website",
		"start_url":        "/",
		"display":          "standalone",
		"background_color": r.data.Colors.Background,
		"theme_color":      r.data.Colors.Primary,
		"lang":             r.data.Language,
		"icons": []map[string]string{
			{"src": "assets/images/favicon.ico", "sizes": "any", "type": "image/x-icon"},
		},
	}
	return json.MarshalIndent(manifest, "", "  ")
}

func (r *Renderer) deployScript(item domain.FileDescriptor) ([]byte, error) {
	domainName := firstNonEmpty(item.Domain, r.data.Domain)
	tmpl := scriptTemplates[item.ServerKind.Template()]
	return executeText(tmpl, scriptData{
		Label:      oneLine(r.data.ProjectName),
		SiteID:     r.data.SiteID,
		Domain:     shellSafe(domainName, "[a-z0-9.-]"),
		ScriptName: item.ServerKind.ScriptName(),
		Timestamp:  r.data.Timestamp,
	})
}

// DisplayName turns a project slug such as "coffee-shop" into "Coffee Shop".
func DisplayName(projectName, lang string) string {
	tag := language.Und
	if parsed, err := language.Parse(lang); err == nil {
		tag = parsed
	}
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(projectName))
	return cases.Title(tag).String(strings.Join(words, " "))
}

func executeHTML(tmpl *htmltemplate.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.Bytes(), nil
}

func executeText(tmpl *texttemplate.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.Bytes(), nil
}

var (
	unsafeRuns = map[string]*regexp.Regexp{
		"[a-z0-9-]":  regexp.MustCompile(`[^a-z0-9-]+`),
		"[a-z0-9.-]": regexp.MustCompile(`[^a-z0-9.-]+`),
	}
	dashRuns = regexp.MustCompile(`-{2,}`)
)

// shellSafe lower-cases raw and replaces every run outside allowed with a dash, so the
// result can sit inside a double-quoted shell string and a filesystem path.
func shellSafe(raw, allowed string) string {
	cleaned := unsafeRuns[allowed].ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "-")
	return strings.Trim(dashRuns.ReplaceAllString(cleaned, "-"), "-.")
}

// oneLine flattens s for use in a shell comment.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
