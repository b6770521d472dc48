//go:build property
// +build property

package manifest

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/splax/sitedeploy/internal/domain"
)

func TestManifestProperties(t *testing.T) {
	b := New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	properties := gopter.NewProperties(nil)

	themeFor := func(images []string) domain.Theme {
		items := make([]domain.ProductItem, 0, len(images))
		for _, img := range images {
			items = append(items, domain.ProductItem{Image: img})
		}
		return domain.Theme{Content: domain.Content{Products: domain.Products{Items: items}}}
	}

	// Each reference is one of: remote URL, upload (possibly escaping the root),
	// inline value, or empty.
	imageGen := gopter.CombineGens(gen.IntRange(0, 4), gen.IntRange(0, 999)).Map(func(v []interface{}) string {
		n := v[1].(int)
		switch v[0].(int) {
		case 0:
			return fmt.Sprintf("https://cdn.example.com/img%d.jpg", n)
		case 1:
			return fmt.Sprintf("/uploads/img%d.png", n)
		case 2:
			return fmt.Sprintf("/uploads/../img%d.png", n)
		case 3:
			return fmt.Sprintf("data:image/png;base64,%d", n)
		default:
			return ""
		}
	})

	properties.Property("build is deterministic", prop.ForAll(
		func(images []string, assets, script bool) bool {
			opts := domain.DeployOptions{IncludeAssets: assets, GenerateAuxiliaryScript: script, ServerKind: domain.ServerDocker}
			theme := themeFor(images)
			return reflect.DeepEqual(b.Build(opts, theme), b.Build(opts, theme))
		},
		gen.SliceOfN(6, imageGen),
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("paths are unique and stay inside the root", prop.ForAll(
		func(images []string) bool {
			opts := domain.DeployOptions{IncludeAssets: true, GenerateAuxiliaryScript: true, ServerKind: domain.ServerKind("unknown")}
			seen := make(map[string]struct{})
			for _, item := range b.Build(opts, themeFor(images)) {
				if strings.Contains(item.Path, "..") || strings.HasPrefix(item.Path, "/") {
					return false
				}
				if _, dup := seen[item.Path]; dup {
					return false
				}
				seen[item.Path] = struct{}{}
			}
			return true
		},
		gen.SliceOfN(6, imageGen),
	))

	properties.Property("asset section is never empty when assets are included", prop.ForAll(
		func(images []string) bool {
			items := b.Build(domain.DeployOptions{IncludeAssets: true}, themeFor(images))
			return len(items) > BaseCount
		},
		gen.SliceOfN(6, imageGen),
	))

	properties.TestingRun(t)
}
