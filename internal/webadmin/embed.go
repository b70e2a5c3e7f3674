// ABOUTME: Embeds HTML templates and help text into the binary using go:embed
// ABOUTME: Provides templateFS and guidanceFS for loading at runtime

package webadmin

import "embed"

//go:embed templates/*.html
var templateFS embed.FS

//go:embed guidance/*.md
var guidanceFS embed.FS
