package config

const defaultContextLimit = 131072

const defaultSystemPrompt = `You are a coding assistant working in the user's project directory.
Use the available tools to inspect and change files. Keep answers short and concrete.`

const plannerPrompt = `You are a planning assistant. Break the user's request into a clear, numbered implementation plan.
Identify the files to touch, risks, and how to verify the result. Do not write code.
When your plan is complete, hand off to @coder for implementation.`

const coderPrompt = `You are a focused implementation assistant. Implement the requested change with minimal, correct edits.
Read files before editing them and verify your work with the available tools.`

const reviewerPrompt = `You are a code reviewer. Review the recent changes for bugs, edge cases, and style problems.
Be specific and concise. Point to files and lines.`

// Default returns the built-in configuration every loaded file is layered on.
func Default() *Config {
	return &Config{
		LLMClient:    "openai",
		Model:        "grok-3",
		BaseURL:      "https://api.x.ai/v1",
		APIKeyEnv:    "XAI_API_KEY",
		SystemPrompt: defaultSystemPrompt,
		FilesystemAccess: FilesystemAccess{
			Hidden: []string{DirName, DirName + "/**"},
		},
		AllowedCommands: map[string][]string{},
		Roles: map[string]Role{
			"planner":  {Model: "grok-4.1-fast-reasoning", Prompt: plannerPrompt},
			"coder":    {Model: "grok-code-fast-1", Prompt: coderPrompt},
			"reviewer": {Model: "grok-3-mini", Prompt: reviewerPrompt},
		},
		RateLimits: map[string]RateLimit{
			"grok-code-fast-1":            {MaxContext: 256000, TokensPerMinute: 2000000, RequestsPerMinute: 480},
			"grok-3":                      {MaxContext: 131072, TokensPerMinute: 1000000, RequestsPerMinute: 300},
			"grok-3-mini":                 {MaxContext: 131072, TokensPerMinute: 1500000, RequestsPerMinute: 400},
			"grok-4-0709":                 {MaxContext: 256000, TokensPerMinute: 2000000, RequestsPerMinute: 480},
			"grok-4-1-fast-reasoning":     {MaxContext: 2000000, TokensPerMinute: 3000000, RequestsPerMinute: 300},
			"grok-4-1-fast-non-reasoning": {MaxContext: 2000000, TokensPerMinute: 3000000, RequestsPerMinute: 300},
			"grok-4-fast-reasoning":       {MaxContext: 2000000, TokensPerMinute: 3000000, RequestsPerMinute: 300},
			"grok-4-fast-non-reasoning":   {MaxContext: 2000000, TokensPerMinute: 3000000, RequestsPerMinute: 300},
			"grok-4.1-fast-reasoning":     {MaxContext: 2000000, TokensPerMinute: 3000000, RequestsPerMinute: 300},
			"grok-2-vision-1212":          {MaxContext: 32768, TokensPerMinute: 500000, RequestsPerMinute: 200},
		},
		Settings: Settings{
			RateLimiterEnabled: true,
			SandboxEnabled:     true,
		},
		Compression: Compression{Trigger: 0.70, Budget: 0.30},
		Brainstorm:  Brainstorm{Model: "grok-3-mini", Rounds: 2},
		Log:         Log{File: DirName + "/debug.log"},
	}
}
