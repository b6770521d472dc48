package content

import (
	htmltemplate "html/template"
	texttemplate "text/template"
)

var htmlFuncs = htmltemplate.FuncMap{
	// Blog bodies are authored by the site owner in the editor.
	"trusted": func(s string) htmltemplate.HTML { return htmltemplate.HTML(s) },
}

var indexTemplate = htmltemplate.Must(htmltemplate.New("index.html").Funcs(htmlFuncs).Parse(`<!DOCTYPE html>
<html lang="{{.Language}}">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.MetaTitle}}</title>
    <meta name="description" content="{{.MetaDesc}}">
    <meta name="keywords" content="{{.Keywords}}">
    <meta name="author" content="{{.CompanyName}}">
    <meta property="og:type" content="website">
    <meta property="og:title" content="{{.MetaTitle}}">
    <meta property="og:description" content="{{.MetaDesc}}">
    <meta property="og:site_name" content="{{.CompanyName}}">
    <meta name="twitter:card" content="summary_large_image">
    <meta name="robots" content="index, follow">
    <link rel="icon" href="assets/images/favicon.ico">
    <link rel="manifest" href="manifest.json">
    <link rel="stylesheet" href="assets/css/styles.css">
</head>
<body>
    <a href="#main-content" class="sr-only">Skip to main content</a>
    <header class="site-header">
        <div class="container header-inner">
            <div class="brand">
                <span class="brand-title">{{.CompanyName}}</span>
                {{with .Content.Header.Subtitle}}<span class="brand-subtitle">{{.}}</span>{{end}}
            </div>
            <nav class="site-nav">
                {{range .Content.Header.Navigation}}<a href="{{.Href}}">{{.Name}}</a>
                {{else}}<a href="#products">Products</a>
                <a href="#testimonials">Testimonials</a>
                <a href="#contact">Contact</a>{{end}}
            </nav>
        </div>
    </header>
    <main id="main-content">
        <section class="hero">
            <div class="container">
                <h1>{{or .Content.Hero.Title "Welcome to Our Website"}}</h1>
                {{with .Content.Hero.Subtitle}}<p class="hero-subtitle">{{.}}</p>{{end}}
                <p>{{or .Content.Hero.Description "Professional services for your business"}}</p>
                <a class="button" href="#contact">{{or .Content.Hero.CTAText "Get Started"}}</a>
            </div>
        </section>
        {{with .Content.Products.Items}}
        <section id="products" class="products">
            <div class="container">
                <h2>{{or $.Content.Products.Title "Products & Services"}}</h2>
                <div class="grid">
                    {{range .}}<article class="card">
                        <h3>{{.Name}}</h3>
                        <p>{{.Description}}</p>
                        {{with .Price}}<p class="price">{{.}}</p>{{end}}
                    </article>
                    {{end}}
                </div>
            </div>
        </section>
        {{end}}
        {{with .Content.Testimonials.Testimonials}}
        <section id="testimonials" class="testimonials">
            <div class="container">
                <h2>{{or $.Content.Testimonials.Title "What Our Customers Say"}}</h2>
                <div class="grid">
                    {{range .}}<blockquote class="card">
                        <p>{{.Content}}</p>
                        <footer>{{.Name}}{{with .Position}}, {{.}}{{end}}{{with .Company}} &middot; {{.}}{{end}}</footer>
                    </blockquote>
                    {{end}}
                </div>
            </div>
        </section>
        {{end}}
        {{with .Content.Blog.Posts}}
        <section id="blog" class="blog">
            <div class="container">
                <h2>{{or $.Content.Blog.Title "Latest News"}}</h2>
                {{range .}}<article class="post">
                    <h3>{{.Title}}</h3>
                    {{with .Excerpt}}<p class="excerpt">{{.}}</p>{{end}}
                    {{with .Body}}<div class="post-body">{{trusted .}}</div>{{end}}
                </article>
                {{end}}
            </div>
        </section>
        {{end}}
    </main>
    <footer id="contact" class="site-footer">
        <div class="container">
            <p class="footer-company">{{or .Content.Footer.CompanyName .CompanyName}}</p>
            {{with .Content.Footer.Description}}<p>{{.}}</p>{{end}}
            {{with .Content.Footer.Contact.Phone}}<p>Phone: {{.}}</p>{{end}}
            {{with .Content.Footer.Contact.Email}}<p>Email: <a href="mailto:{{.}}">{{.}}</a></p>{{end}}
            {{with .Content.Footer.Contact.Address}}<p>{{.}}</p>{{end}}
        </div>
    </footer>
    <script src="assets/js/scripts.js"></script>
</body>
</html>
`))

var stylesTemplate = texttemplate.Must(texttemplate.New("styles.css").Parse(`:root {
  --color-primary: {{.Colors.Primary}};
  --color-secondary: {{.Colors.Secondary}};
  --color-accent: {{.Colors.Accent}};
  --color-background: {{.Colors.Background}};
  --color-text: {{.Colors.Text}};
  --color-muted: {{.Colors.Muted}};
}

* { box-sizing: border-box; margin: 0; padding: 0; }
body { font-family: Inter, system-ui, sans-serif; color: var(--color-text); background: var(--color-background); line-height: 1.6; }
.container { max-width: 1200px; margin: 0 auto; padding: 0 1rem; }
.sr-only { position: absolute; left: -9999px; }
.sr-only:focus { left: 1rem; top: 1rem; }
.site-header { background: var(--color-secondary); color: #fff; padding: 1rem 0; }
.header-inner { display: flex; justify-content: space-between; align-items: center; }
.brand-title { font-size: 1.5rem; font-weight: 700; }
.brand-subtitle { display: block; font-size: 0.875rem; opacity: 0.85; }
.site-nav { display: flex; gap: 2rem; }
.site-nav a { color: #fff; text-decoration: none; }
.hero { background: linear-gradient(135deg, var(--color-primary), var(--color-secondary)); color: #fff; padding: 5rem 0; text-align: center; }
.hero h1 { font-size: 3rem; margin-bottom: 1rem; }
.hero p { font-size: 1.25rem; margin-bottom: 2rem; }
.button { background: var(--color-accent); color: #fff; padding: 1rem 2rem; border-radius: 0.5rem; text-decoration: none; display: inline-block; }
section { padding: 5rem 0; }
section h2 { font-size: 2.5rem; text-align: center; margin-bottom: 3rem; }
.grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(300px, 1fr)); gap: 2rem; }
.card { background: #fff; padding: 2rem; border-radius: 0.5rem; box-shadow: 0 4px 20px rgba(0, 0, 0, 0.1); }
.price { color: var(--color-primary); font-weight: 600; }
.testimonials blockquote footer { margin-top: 1rem; color: var(--color-muted); }
.post { margin-bottom: 2rem; }
.post-body img { max-width: 100%; }
.site-footer { background: var(--color-text); color: #fff; padding: 3rem 0; }
.site-footer a { color: var(--color-accent); }

@media (max-width: 768px) {
  .site-nav { display: none; }
  .hero h1 { font-size: 2rem; }
}
`))

var sitemapTemplate = texttemplate.Must(texttemplate.New("sitemap.xml").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url>
    <loc>{{.BaseURL}}/</loc>
    <lastmod>{{.Date}}</lastmod>
    <changefreq>weekly</changefreq>
    <priority>1.0</priority>
  </url>
</urlset>
`))

var robotsTemplate = texttemplate.Must(texttemplate.New("robots.txt").Parse(`User-agent: *
Allow: /

Sitemap: {{.BaseURL}}/sitemap.xml
`))

var readmeTemplate = texttemplate.Must(texttemplate.New("README.md").Parse(`# {{.DisplayName}}
{{with .Description}}
{{.}}
{{end}}
## Static HTML Website

This directory is a self-contained static site.

## Getting Started

Open ` + "`index.html`" + ` in a browser, or serve the directory locally:

` + "```bash" + `
python3 -m http.server 8000
` + "```" + `

## Deployment

If a ` + "`deploy-*.sh`" + ` script is present, copy this directory to the server and run it with sudo.
It installs the site and configures the web server{{with .Domain}} for {{.}}{{end}}.
`))

const scriptsJS = `(function () {
  'use strict';

  document.querySelectorAll('a[href^="#"]').forEach(function (anchor) {
    anchor.addEventListener('click', function (event) {
      var target = document.querySelector(anchor.getAttribute('href'));
      if (!target) {
        return;
      }
      event.preventDefault();
      target.scrollIntoView({ behavior: 'smooth', block: 'start' });
    });
  });

  var header = document.querySelector('.site-header');
  if (header) {
    window.addEventListener('scroll', function () {
      header.classList.toggle('scrolled', window.scrollY > 50);
    });
  }
})();
`
