package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

// Default palette and language applied when a theme omits them.
const (
	DefaultPrimaryColor    = "#8B4513"
	DefaultSecondaryColor  = "#D2691E"
	DefaultAccentColor     = "#CD853F"
	DefaultBackgroundColor = "#F5F5DC"
	DefaultTextColor       = "#2D3748"
	DefaultMutedColor      = "#718096"
	DefaultLanguage        = "vi"
	DefaultMetaKeywords    = "business, website, professional"
)

// ErrEmptyTheme indicates a project has no content snapshot to deploy.
var ErrEmptyTheme = errors.New("theme content is empty")

// Theme is the business content snapshot a site is rendered from.
type Theme struct {
	Colors   Palette `json:"colors"`
	Content  Content `json:"content"`
	Language string  `json:"projectLanguage,omitempty"`
}

// Palette holds the theme colors used by the generated stylesheet and web manifest.
type Palette struct {
	Primary    string `json:"primary,omitempty"`
	Secondary  string `json:"secondary,omitempty"`
	Accent     string `json:"accent,omitempty"`
	Background string `json:"background,omitempty"`
	Text       string `json:"text,omitempty"`
	Muted      string `json:"muted,omitempty"`
}

// Content groups the page sections.
type Content struct {
	Meta         Meta         `json:"meta"`
	Header       Header       `json:"header"`
	Hero         Hero         `json:"hero"`
	Products     Products     `json:"products"`
	Testimonials Testimonials `json:"testimonials"`
	Blog         Blog         `json:"blog"`
	Footer       Footer       `json:"footer"`
}

type Meta struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Keywords    string `json:"keywords,omitempty"`
}

type NavLink struct {
	Name string `json:"name"`
	Href string `json:"href"`
}

type Header struct {
	Logo       string    `json:"logo,omitempty"`
	Title      string    `json:"title,omitempty"`
	Subtitle   string    `json:"subtitle,omitempty"`
	Navigation []NavLink `json:"navigation,omitempty"`
}

type Hero struct {
	Title            string `json:"title,omitempty"`
	Subtitle         string `json:"subtitle,omitempty"`
	Description      string `json:"description,omitempty"`
	CTAText          string `json:"ctaText,omitempty"`
	BackgroundImage  string `json:"backgroundImage,omitempty"`
	HeroImage        string `json:"heroImage,omitempty"`
	Image            string `json:"image,omitempty"`
	UnsplashImageURL string `json:"unsplashImageUrl,omitempty"`
}

type Products struct {
	Title string        `json:"title,omitempty"`
	Items []ProductItem `json:"items,omitempty"`
}

type ProductItem struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price,omitempty"`
	Image       string `json:"image,omitempty"`
}

type Testimonials struct {
	Title        string        `json:"title,omitempty"`
	Testimonials []Testimonial `json:"testimonials,omitempty"`
}

type Testimonial struct {
	Name     string `json:"name,omitempty"`
	Position string `json:"position,omitempty"`
	Company  string `json:"company,omitempty"`
	Content  string `json:"content,omitempty"`
	Rating   int    `json:"rating,omitempty"`
}

type Blog struct {
	Title string     `json:"title,omitempty"`
	Posts []BlogPost `json:"posts,omitempty"`
}

// BlogPost carries a rich-text body; image references inside Body are deployed as assets.
type BlogPost struct {
	Title   string `json:"title,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
	Body    string `json:"body,omitempty"`
}

type Footer struct {
	CompanyName string  `json:"companyName,omitempty"`
	Description string  `json:"description,omitempty"`
	Contact     Contact `json:"contact"`
}

type Contact struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// DecodeTheme parses a stored content snapshot and applies defaults.
func DecodeTheme(raw []byte) (Theme, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return Theme{}, ErrEmptyTheme
	}
	var theme Theme
	if err := json.Unmarshal(raw, &theme); err != nil {
		return Theme{}, err
	}
	return theme.WithDefaults(), nil
}

// WithDefaults returns a copy of the theme with every optional field resolved.
func (t Theme) WithDefaults() Theme {
	t.Colors = t.Colors.WithDefaults()
	if strings.TrimSpace(t.Language) == "" {
		t.Language = DefaultLanguage
	}
	if strings.TrimSpace(t.Content.Meta.Keywords) == "" {
		t.Content.Meta.Keywords = DefaultMetaKeywords
	}
	return t
}

// WithDefaults fills unset colors.
func (p Palette) WithDefaults() Palette {
	p.Primary = orDefault(p.Primary, DefaultPrimaryColor)
	p.Secondary = orDefault(p.Secondary, DefaultSecondaryColor)
	p.Accent = orDefault(p.Accent, DefaultAccentColor)
	p.Background = orDefault(p.Background, DefaultBackgroundColor)
	p.Text = orDefault(p.Text, DefaultTextColor)
	p.Muted = orDefault(p.Muted, DefaultMutedColor)
	return p
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
