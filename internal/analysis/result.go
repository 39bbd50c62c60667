// Package analysis turns a decoded extension package into a risk assessment.
package analysis

import (
	"github.com/crxlens/crxlens/internal/crx"
)

// Result is the envelope produced by one analysis. Field names are part of
// the API contract and must stay stable.
type Result struct {
	Permissions       []string      `json:"permissions"`
	PermissionsScore  float64       `json:"permissions_score"`
	ThirdPartyDomains []string      `json:"third_party_dependencies"`
	Manifest          *crx.Manifest `json:"manifest"`
}
