package parser

import (
	"strings"
)

// BlockType describes the kind of anti-bot page detected in a render.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockForbidden  BlockType = "forbidden"
)

// DetectBlock checks rendered markup for signs of anti-bot protection or an
// access-denied page served in place of the report.
func DetectBlock(markup string) (bool, BlockType) {
	lower := strings.ToLower(markup)

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "hcaptcha") ||
		strings.Contains(lower, "captcha-container") {
		return true, BlockCaptcha
	}

	if strings.Contains(lower, "<title>403") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "acceso denegado") {
		return true, BlockForbidden
	}

	return false, BlockNone
}
