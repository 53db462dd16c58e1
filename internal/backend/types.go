package backend

// Message represents a prompt sent to an agent CLI.
type Message struct {
	Content string
	Role    string // "user" or "system"
}

// Response is what an agent CLI returned for one prompt.
type Response struct {
	Content    string
	SessionID  string
	TokensUsed int    // Input + output tokens, 0 when the CLI reports no usage
	Error      string // CLI-reported error text, if any
}

// Config defines how to invoke one agent CLI.
type Config struct {
	Type         string   // "claude" or "codex"
	Command      string   // Binary name, defaults to Type
	Args         []string // Extra args appended to every invocation
	WorkDir      string
	SessionID    string
	Model        string
	SystemPrompt string
}

func (c Config) command() string {
	if c.Command != "" {
		return c.Command
	}
	return c.Type
}
