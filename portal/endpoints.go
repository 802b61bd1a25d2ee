package portal

import (
	"strings"
)

// Endpoints describes where the portal API and its forum SSO live.
type Endpoints struct {
	// BaseURL must end with a slash, every path below is relative to it.
	BaseURL            string
	SSOPath            string
	SearchPath         string
	ReuploadPath       string
	UploadChunkPath    string
	CompleteUploadPath string
	ForumCookieDomain  string
	PortalDomain       string
}

// DefaultEndpoints ...
func DefaultEndpoints() Endpoints {
	return Endpoints{
		BaseURL:            "https://portal-api.cfx.re/v1/",
		SSOPath:            "auth/discourse?return=",
		SearchPath:         "me/assets",
		ReuploadPath:       "assets/{id}/re-upload",
		UploadChunkPath:    "assets/{id}/upload-chunk",
		CompleteUploadPath: "assets/{id}/complete-upload",
		ForumCookieDomain:  "forum.cfx.re",
		PortalDomain:       "portal.cfx.re",
	}
}

// SSOURL is the address returning the forum redirect payload used by browser sign-in.
func (e Endpoints) SSOURL() string {
	return e.BaseURL + e.SSOPath
}

func (e Endpoints) assetURL(path, assetID string) string {
	return e.BaseURL + strings.ReplaceAll(path, "{id}", assetID)
}
