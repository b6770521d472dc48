package domain

import (
	"strings"
	"time"
)

// ServerKind selects the auxiliary deploy script template.
type ServerKind string

const (
	ServerNginx  ServerKind = "nginx"
	ServerApache ServerKind = "apache"
	ServerNode   ServerKind = "node"
	ServerDocker ServerKind = "docker"

	// DefaultScriptName is used for server kinds without a dedicated script.
	DefaultScriptName = "deploy.sh"
)

// Known reports whether k is one of the supported server kinds.
func (k ServerKind) Known() bool {
	switch k {
	case ServerNginx, ServerApache, ServerNode, ServerDocker:
		return true
	}
	return false
}

// ScriptName returns the file name of the deploy script for the server kind.
func (k ServerKind) ScriptName() string {
	if !k.Known() {
		return DefaultScriptName
	}
	return "deploy-" + string(k) + ".sh"
}

// Template returns the server kind whose script body is rendered; unknown kinds use nginx.
func (k ServerKind) Template() ServerKind {
	if !k.Known() {
		return ServerNginx
	}
	return k
}

// NormalizeServerKind lower-cases and trims raw input. Empty input maps to nginx.
func NormalizeServerKind(raw string) ServerKind {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ServerNginx
	}
	return ServerKind(trimmed)
}

// DeployOptions are the user choices attached to a deploy request.
type DeployOptions struct {
	ProjectName             string     `json:"projectName"`
	Description             string     `json:"description"`
	IncludeAssets           bool       `json:"includeAssets"`
	CreateIsolatedFolder    bool       `json:"createIsolatedFolder"`
	GenerateAuxiliaryScript bool       `json:"generateAuxiliaryScript"`
	ServerKind              ServerKind `json:"serverKind"`
	DomainName              string     `json:"domainName"`
}

// DeployRequest is an accepted deploy. It is not modified after acceptance.
type DeployRequest struct {
	ID          string
	OwnerID     string
	ProjectID   string
	Options     DeployOptions
	Theme       Theme
	RequestedAt time.Time
}

// TargetKey returns the deduplication identity of the request.
func (r DeployRequest) TargetKey() string {
	return TargetKey(r.OwnerID, r.ProjectID)
}

// TargetKey derives the deduplication identity from owner and project identifiers.
func TargetKey(ownerID, projectID string) string {
	return ownerID + "/" + projectID
}

// SourceKind says how the bytes of a manifest entry are produced.
type SourceKind string

const (
	SourceGenerated SourceKind = "generated"
	SourceCopy      SourceKind = "copy"
	SourceDownload  SourceKind = "download"
	SourceLiteral   SourceKind = "literal"
)

// Template identifiers for generated files.
const (
	TemplateHTML     = "html"
	TemplateCSS      = "css"
	TemplateJS       = "js"
	TemplateSitemap  = "sitemap"
	TemplateRobots   = "robots"
	TemplateManifest = "manifest"
	TemplateReadme   = "readme"
	TemplateScript   = "deploy-script"
)

// FileDescriptor describes one file of a manifest.
//
// Ref depends on Kind: a template id for generated files, an absolute source path for
// copies, a URL for downloads and the file body itself for literals.
type FileDescriptor struct {
	Path       string     `json:"path"`
	Kind       SourceKind `json:"kind"`
	Ref        string     `json:"ref"`
	ServerKind ServerKind `json:"serverKind,omitempty"`
	Domain     string     `json:"domain,omitempty"`
}

// DeployStatus is the lifecycle state of a deploy.
type DeployStatus string

const (
	StatusQueued     DeployStatus = "queued"
	StatusProcessing DeployStatus = "processing"
	StatusCompleted  DeployStatus = "completed"
	StatusFailed     DeployStatus = "failed"
)

// DeployProgress is the live view of one deploy.
type DeployProgress struct {
	Status         DeployStatus `json:"status"`
	Percent        int          `json:"progress"`
	TotalItems     int          `json:"totalFiles"`
	ProcessedItems int          `json:"processedFiles"`
	StartedAt      time.Time    `json:"startTime"`
	FinishedAt     *time.Time   `json:"endTime,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// DeployMetadata is the sidecar written into a completed output directory.
type DeployMetadata struct {
	DeploymentID    string    `json:"deploymentId"`
	ProjectID       string    `json:"projectId"`
	OwnerID         string    `json:"userId"`
	ProjectName     string    `json:"projectName"`
	Description     string    `json:"description,omitempty"`
	DeployedAt      time.Time `json:"deployTime"`
	FileCount       int       `json:"fileCount"`
	BytesWritten    int64     `json:"bytesWritten"`
	OwnerFolderPath *string   `json:"userFolderPath"`
	ScriptPath      *string   `json:"deployScriptPath"`
	ServerKind      *string   `json:"serverType"`
	Domain          *string   `json:"domain"`
	IncludeAssets   bool      `json:"includeAssets"`
	ElapsedMillis   int64     `json:"elapsedMillis"`
	Version         string    `json:"version"`
}
