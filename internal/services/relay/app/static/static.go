// Package static embeds the avatar images referenced by channel
// envelopes so the relay serves them itself.
package static

import "embed"

// FS exposes relay static assets for HTTP serving.
//
//go:embed avatars/*.png
var FS embed.FS
