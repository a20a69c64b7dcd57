// Package prompts embeds the agent's prompt templates.
package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS
