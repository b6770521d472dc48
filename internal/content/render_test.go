package content

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/sitedeploy/internal/domain"
)

func testSite() Site {
	return Site{
		ProjectName: "coffee-shop",
		Description: "Fresh roasted beans",
		Domain:      "coffee.example.com",
		GeneratedAt: time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC),
		Theme: domain.Theme{
			Colors: domain.Palette{Primary: "#112233"},
			Content: domain.Content{
				Header: domain.Header{Title: "Bean There"},
				Hero:   domain.Hero{Title: "Hello <world>"},
				Products: domain.Products{Items: []domain.ProductItem{
					{Name: "Espresso", Price: "$3"},
				}},
				Blog: domain.Blog{Posts: []domain.BlogPost{
					{Title: "News", Body: `<p>Open <b>late</b></p>`},
				}},
			},
		},
	}
}

func render(t *testing.T, r *Renderer, item domain.FileDescriptor) string {
	t.Helper()
	body, err := r.Content(context.Background(), item)
	require.NoError(t, err)
	return string(body)
}

func TestRenderGeneratedFiles(t *testing.T) {
	r := NewRenderer(testSite())

	html := render(t, r, domain.FileDescriptor{Path: "index.html", Kind: domain.SourceGenerated, Ref: domain.TemplateHTML})
	assert.Contains(t, html, `<html lang="vi">`)
	assert.Contains(t, html, "Bean There")
	assert.Contains(t, html, "Hello &lt;world&gt;")
	assert.Contains(t, html, "Espresso")
	assert.Contains(t, html, "<b>late</b>")

	css := render(t, r, domain.FileDescriptor{Kind: domain.SourceGenerated, Ref: domain.TemplateCSS})
	assert.Contains(t, css, "--color-primary: #112233;")
	assert.Contains(t, css, "--color-secondary: "+domain.DefaultSecondaryColor+";")

	sitemap := render(t, r, domain.FileDescriptor{Kind: domain.SourceGenerated, Ref: domain.TemplateSitemap})
	assert.Contains(t, sitemap, "<loc>https://coffee.example.com/</loc>")
	assert.Contains(t, sitemap, "<lastmod>2024-03-09</lastmod>")

	robots := render(t, r, domain.FileDescriptor{Kind: domain.SourceGenerated, Ref: domain.TemplateRobots})
	assert.Contains(t, robots, "Sitemap: https://coffee.example.com/sitemap.xml")

	readme := render(t, r, domain.FileDescriptor{Kind: domain.SourceGenerated, Ref: domain.TemplateReadme})
	assert.True(t, strings.HasPrefix(readme, "# Coffee Shop\n"))
	assert.Contains(t, readme, "Fresh roasted beans")

	js := render(t, r, domain.FileDescriptor{Kind: domain.SourceGenerated, Ref: domain.TemplateJS})
	assert.Equal(t, scriptsJS, js)
}

func TestRenderWebManifest(t *testing.T) {
	r := NewRenderer(testSite())

	body := render(t, r, domain.FileDescriptor{Kind: domain.SourceGenerated, Ref: domain.TemplateManifest})

	var manifest map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &manifest))
	assert.Equal(t, "Coffee Shop", manifest["name"])
	assert.Equal(t, "coffee-shop", manifest["short_name"])
	assert.Equal(t, "#112233", manifest["theme_color"])
}

func TestRenderDeployScripts(t *testing.T) {
	r := NewRenderer(testSite())

	tests := []struct {
		kind domain.ServerKind
		want string
	}{
		{domain.ServerNginx, "nginx -t"},
		{domain.ServerApache, "apache2ctl configtest"},
		{domain.ServerNode, "server.js"},
		{domain.ServerDocker, "docker build"},
		{domain.ServerKind("caddy"), "nginx -t"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			script := render(t, r, domain.FileDescriptor{
				Path:       tt.kind.ScriptName(),
				Kind:       domain.SourceGenerated,
				Ref:        domain.TemplateScript,
				ServerKind: tt.kind,
				Domain:     "shop.example.com",
			})
			assert.True(t, strings.HasPrefix(script, "#!/usr/bin/env bash\n"))
			assert.Contains(t, script, `DOMAIN="shop.example.com"`)
			assert.Contains(t, script, `PROJECT_NAME="coffee-shop"`)
			assert.Contains(t, script, "# "+tt.kind.ScriptName()+" for coffee-shop")
			assert.Contains(t, script, tt.want)
		})
	}
}

func TestRenderDeployScriptNeutralisesProjectName(t *testing.T) {
	hostile := "Joe's \"shop\"; $(touch /tmp/x) `id`\nrm -rf /"

	tests := []struct {
		name   string
		site   Site
		wantID string
	}{
		{"raw name", Site{ProjectName: hostile, Domain: "a.example.com"}, "joe-s-shop-touch-tmp-x-id-rm-rf"},
		{"site id", Site{ProjectName: hostile, SiteID: "joe-s-shop-1714555800000", Domain: "a.example.com"}, "joe-s-shop-1714555800000"},
		{"nothing usable", Site{ProjectName: "$()", Domain: "a.example.com"}, "site"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := render(t, NewRenderer(tt.site), domain.FileDescriptor{
				Path:       domain.ServerNginx.ScriptName(),
				Kind:       domain.SourceGenerated,
				Ref:        domain.TemplateScript,
				ServerKind: domain.ServerNginx,
				Domain:     `a.example.com"; reboot; "`,
			})
			assert.Contains(t, script, `PROJECT_NAME="`+tt.wantID+`"`)
			assert.Contains(t, script, `DOMAIN="a.example.com-reboot"`)
			assert.NotContains(t, script, "\nrm -rf")
			for _, line := range strings.Split(script, "\n") {
				if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
					continue
				}
				assert.NotContains(t, line, "$(touch", line)
				assert.NotContains(t, line, "`id`", line)
			}
		})
	}
}

func TestRenderLiteralAndUnsupported(t *testing.T) {
	r := NewRenderer(Site{ProjectName: "x"})

	body, err := r.Content(context.Background(), domain.FileDescriptor{Kind: domain.SourceLiteral, Ref: "<!-- placeholder -->"})
	require.NoError(t, err)
	assert.Equal(t, "<!-- placeholder -->", string(body))

	_, err = r.Content(context.Background(), domain.FileDescriptor{Kind: domain.SourceCopy, Ref: "/tmp/a"})
	assert.Error(t, err)

	_, err = r.Content(context.Background(), domain.FileDescriptor{Kind: domain.SourceGenerated, Ref: "unknown"})
	assert.Error(t, err)
}

func TestRenderWithoutDomainUsesPlaceholderHost(t *testing.T) {
	r := NewRenderer(Site{ProjectName: "x"})

	robots := render(t, r, domain.FileDescriptor{Kind: domain.SourceGenerated, Ref: domain.TemplateRobots})

	assert.Contains(t, robots, "https://example.com/sitemap.xml")
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		in   string
		lang string
		want string
	}{
		{"coffee-shop", "en", "Coffee Shop"},
		{"my_site  demo", "vi", "My Site Demo"},
		{"", "en", ""},
		{"single", "not a tag!", "Single"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DisplayName(tt.in, tt.lang), tt.in)
	}
}
