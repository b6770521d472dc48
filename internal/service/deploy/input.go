package deploy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/splax/sitedeploy/internal/domain"
)

// Input is the caller-supplied payload of a deploy request.
type Input struct {
	ProjectID               string `json:"projectId"`
	ProjectName             string `json:"projectName"`
	Description             string `json:"description"`
	IncludeAssets           bool   `json:"includeAssets"`
	CreateIsolatedFolder    bool   `json:"createIsolatedFolder"`
	GenerateAuxiliaryScript bool   `json:"generateAuxiliaryScript"`
	ServerKind              string `json:"serverKind"`
	DomainName              string `json:"domainName"`
}

// DefaultDomainSuffix completes generated host names when none is configured.
const DefaultDomainSuffix = "example.com"

var (
	domainPattern  = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	slugDisallowed = regexp.MustCompile(`[^a-z0-9-]+`)
	slugDashes     = regexp.MustCompile(`-{2,}`)
)

// validate checks required fields and returns the trimmed project identifier.
func (in Input) validate() (string, error) {
	projectID := strings.TrimSpace(in.ProjectID)
	if projectID == "" {
		return "", invalid("projectId is required")
	}
	if strings.TrimSpace(in.ProjectName) == "" {
		return "", invalid("projectName is required")
	}
	if Slug(in.ProjectName) == "" {
		return "", invalid("projectName %q has no usable characters", in.ProjectName)
	}
	return projectID, nil
}

// options resolves the input into deploy options. stamp and suffix feed the fallback
// host name used when DomainName is missing or malformed.
func (in Input) options(stamp int64, suffix string) domain.DeployOptions {
	name := strings.TrimSpace(in.ProjectName)
	return domain.DeployOptions{
		ProjectName:             name,
		Description:             strings.TrimSpace(in.Description),
		IncludeAssets:           in.IncludeAssets,
		CreateIsolatedFolder:    in.CreateIsolatedFolder,
		GenerateAuxiliaryScript: in.GenerateAuxiliaryScript,
		ServerKind:              domain.NormalizeServerKind(in.ServerKind),
		DomainName:              SanitizeDomain(in.DomainName, Slug(name), stamp, suffix),
	}
}

// Slug lower-cases name and keeps only letters, digits and single dashes so the
// result is safe as a single path segment.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.NewReplacer(" ", "-", "_", "-", ".", "-").Replace(s)
	s = slugDisallowed.ReplaceAllString(s, "")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// SanitizeDomain strips scheme, a leading "www." and any path from raw. Empty or
// malformed input yields "<project>-<stamp>.<suffix>".
func SanitizeDomain(raw, project string, stamp int64, suffix string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "www.")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if host != "" && host != "null" && len(host) <= 253 && domainPattern.MatchString(host) {
		return host
	}
	if suffix = strings.Trim(strings.TrimSpace(suffix), "."); suffix == "" {
		suffix = DefaultDomainSuffix
	}
	if project == "" {
		project = "site"
	}
	return fmt.Sprintf("%s-%d.%s", project, stamp, suffix)
}

// pathSegment makes an owner identifier usable as a directory name. The result has a
// "u_" prefix and no dashes, so the retention sweeper never reads it as a stamped
// deploy folder.
func pathSegment(id string) string {
	var b strings.Builder
	b.WriteString("u_")
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
