// Package manifest decides which files a deploy writes and where each one's
// bytes come from.
package manifest

import (
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/splax/sitedeploy/internal/domain"
)

// UploadsPrefix marks image references served from the local uploads store.
const UploadsPrefix = "/uploads/"

const imagesDir = "assets/images/"

// Placeholder bodies appended when a deploy includes assets but references no images.
var placeholders = []domain.FileDescriptor{
	{Path: imagesDir + "hero-coffee.jpg", Kind: domain.SourceLiteral, Ref: "<!-- Placeholder for hero image -->"},
	{Path: imagesDir + "logo.png", Kind: domain.SourceLiteral, Ref: "<!-- Placeholder for logo -->"},
	{Path: imagesDir + "favicon.ico", Kind: domain.SourceLiteral, Ref: "<!-- Placeholder for favicon -->"},
}

var baseFiles = []domain.FileDescriptor{
	{Path: "index.html", Kind: domain.SourceGenerated, Ref: domain.TemplateHTML},
	{Path: "assets/css/styles.css", Kind: domain.SourceGenerated, Ref: domain.TemplateCSS},
	{Path: "assets/js/scripts.js", Kind: domain.SourceGenerated, Ref: domain.TemplateJS},
	{Path: "sitemap.xml", Kind: domain.SourceGenerated, Ref: domain.TemplateSitemap},
	{Path: "robots.txt", Kind: domain.SourceGenerated, Ref: domain.TemplateRobots},
	{Path: "manifest.json", Kind: domain.SourceGenerated, Ref: domain.TemplateManifest},
	{Path: "README.md", Kind: domain.SourceGenerated, Ref: domain.TemplateReadme},
}

// BaseCount is the number of files every manifest starts with.
var BaseCount = len(baseFiles)

// PlaceholderCount is the number of placeholder images added when no image is found.
var PlaceholderCount = len(placeholders)

// Builder turns deploy options and a theme into an ordered manifest.
type Builder struct {
	uploadsRoot string
	logger      *slog.Logger
	stat        func(string) (fs.FileInfo, error)
}

// New returns a Builder resolving "/uploads/..." references under uploadsRoot.
func New(uploadsRoot string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		uploadsRoot: uploadsRoot,
		logger:      logger.With("component", "manifest"),
		stat:        os.Stat,
	}
}

// Build returns base files first, then asset files in discovery order, then the deploy
// script. Identical inputs always produce identical manifests.
func (b *Builder) Build(opts domain.DeployOptions, theme domain.Theme) []domain.FileDescriptor {
	items := make([]domain.FileDescriptor, 0, len(baseFiles)+8)
	items = append(items, baseFiles...)

	if opts.IncludeAssets {
		assets := b.collectAssets(theme.Content)
		if len(assets) == 0 {
			assets = append(assets, placeholders...)
		}
		items = append(items, assets...)
	}

	if opts.GenerateAuxiliaryScript {
		kind := opts.ServerKind
		items = append(items, domain.FileDescriptor{
			Path:       kind.ScriptName(),
			Kind:       domain.SourceGenerated,
			Ref:        domain.TemplateScript,
			ServerKind: kind,
			Domain:     opts.DomainName,
		})
	}
	return items
}

type imageSlot struct {
	ref    string
	target string
}

func (b *Builder) collectAssets(content domain.Content) []domain.FileDescriptor {
	slots := []imageSlot{
		{content.Hero.BackgroundImage, imagesDir + "hero-bg.jpg"},
		{content.Hero.HeroImage, imagesDir + "hero.jpg"},
		{content.Hero.Image, imagesDir + "hero-alt.jpg"},
		{content.Hero.UnsplashImageURL, imagesDir + "hero-unsplash.jpg"},
		{content.Header.Logo, imagesDir + "logo.png"},
	}
	for i, item := range content.Products.Items {
		slots = append(slots, imageSlot{item.Image, fmt.Sprintf("%sproduct-%d.jpg", imagesDir, i+1)})
	}
	for i, post := range content.Blog.Posts {
		for j, src := range ExtractImageSources(post.Body) {
			slots = append(slots, imageSlot{src, fmt.Sprintf("%sblog-%d-%d.jpg", imagesDir, i+1, j+1)})
		}
	}

	seen := make(map[string]struct{}, len(slots))
	var assets []domain.FileDescriptor
	for _, slot := range slots {
		if _, dup := seen[slot.target]; dup {
			continue
		}
		descriptor, ok := b.classify(slot)
		if !ok {
			continue
		}
		seen[slot.target] = struct{}{}
		assets = append(assets, descriptor)
	}
	return assets
}

func (b *Builder) classify(slot imageSlot) (domain.FileDescriptor, bool) {
	ref := strings.TrimSpace(slot.ref)
	switch {
	case ref == "":
		return domain.FileDescriptor{}, false
	case strings.HasPrefix(ref, UploadsPrefix):
		source, ok := b.resolveUpload(ref)
		if !ok {
			return domain.FileDescriptor{}, false
		}
		return domain.FileDescriptor{Path: slot.target, Kind: domain.SourceCopy, Ref: source}, true
	case isAbsoluteURL(ref):
		return domain.FileDescriptor{Path: slot.target, Kind: domain.SourceDownload, Ref: ref}, true
	default:
		return domain.FileDescriptor{}, false
	}
}

// resolveUpload maps an uploads reference to a file under the uploads root. Missing
// files and references escaping the root are dropped.
func (b *Builder) resolveUpload(ref string) (string, bool) {
	if b.uploadsRoot == "" {
		b.logger.Warn("uploads root not configured, dropping image", "ref", ref)
		return "", false
	}
	rel := filepath.FromSlash(strings.TrimPrefix(ref, UploadsPrefix))
	source := filepath.Join(b.uploadsRoot, rel)
	within, err := filepath.Rel(b.uploadsRoot, source)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		b.logger.Warn("upload reference escapes uploads root", "ref", ref)
		return "", false
	}
	info, err := b.stat(source)
	if err != nil || info.IsDir() {
		b.logger.Warn("upload file not found", "ref", ref, "path", source)
		return "", false
	}
	return source, true
}

func isAbsoluteURL(ref string) bool {
	parsed, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// HasImages reports whether the manifest copies or downloads any image.
func HasImages(items []domain.FileDescriptor) bool {
	for _, item := range items {
		if item.Kind == domain.SourceCopy || item.Kind == domain.SourceDownload {
			return true
		}
	}
	return false
}
