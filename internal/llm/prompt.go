// Package llm holds the system-prompt assembly shared by every provider
// adapter: picking a base prompt suited to the model family, then folding
// in any AGENTS.md instructions found in the workspace.
package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// basePrompts holds one system prompt per model family. They share the
// same core rule — read a file before editing it — alongside brief
// guidance on tool use and narration, worded slightly differently per family since each model follows system
// prompt phrasing with different fidelity.
const (
	anthropicPrompt = `You are an autonomous coding agent with access to tools for reading, editing, and running commands in the user's workspace. Use Read before Edit. Prefer Grep over guessing at file locations. Keep commentary brief; let tool output speak for the result.`

	geminiPrompt = `You are a coding agent operating over a real workspace through a fixed set of tools (Read, Edit, Grep, Shell, TodoWrite). Always read a file before editing it. State your plan in a sentence or two before a multi-step change, then execute it.`

	gptPrompt = `You are a coding agent. You have Read, Edit, Grep, Shell, and TodoWrite tools over the user's workspace. Read a file before editing it. Run Shell to verify a change rather than assuming it worked.`

	qwenPrompt = `You are a coding agent with tool access to the user's workspace (Read, Edit, Grep, Shell, TodoWrite). Always Read a file before Edit. Keep your narration short and let the tools do the work.`
)

// SelectPrompt returns the appropriate system prompt for the given model.
func SelectPrompt(modelID string) string {
	modelLower := strings.ToLower(modelID)

	if strings.Contains(modelLower, "claude") {
		return anthropicPrompt
	}
	if strings.Contains(modelLower, "gemini") {
		return geminiPrompt
	}
	if strings.Contains(modelLower, "gpt") || strings.Contains(modelLower, "o1") {
		return gptPrompt
	}
	if strings.Contains(modelLower, "qwen") {
		return qwenPrompt
	}

	// Default fallback
	return anthropicPrompt
}

// LoadAgentInstructions searches for AGENTS.md files in the directory hierarchy
// and returns their concatenated contents. Searches from current working directory
// up to the root, then checks user's config directory.
func LoadAgentInstructions() string {
	var instructions []string

	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	// Search up the directory tree from CWD
	dir := cwd
	for {
		agentsPath := filepath.Join(dir, "AGENTS.md")
		if content := readFileIfExists(agentsPath); content != "" {
			header := fmt.Sprintf("Instructions from: %s", agentsPath)
			instructions = append(instructions, header+"\n"+content)
		}

		// Check if we've reached the root
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	// Check user's config directory (~/.config/agentkernel/AGENTS.md)
	home, err := os.UserHomeDir()
	if err == nil {
		configAgents := filepath.Join(home, ".config", "agentkernel", "AGENTS.md")
		if content := readFileIfExists(configAgents); content != "" {
			header := fmt.Sprintf("Instructions from: %s", configAgents)
			instructions = append(instructions, header+"\n"+content)
		}
	}

	// Reverse order so project-level takes precedence over user-level
	// (prepended to prompt, so last in list appears first)
	for i := 0; i < len(instructions)/2; i++ {
		j := len(instructions) - 1 - i
		instructions[i], instructions[j] = instructions[j], instructions[i]
	}

	return strings.Join(instructions, "\n\n")
}

// BuildSystemPrompt constructs the complete system prompt by combining
// the model-specific base prompt with any AGENTS.md instructions.
func BuildSystemPrompt(modelID string) string {
	basePrompt := SelectPrompt(modelID)
	agentInstructions := LoadAgentInstructions()

	var parts []string
	if agentInstructions != "" {
		parts = append(parts, agentInstructions)
	}

	parts = append(parts, basePrompt)
	return strings.Join(parts, "\n\n---\n\n")
}

// readFileIfExists reads a file if it exists, returns empty string otherwise.
func readFileIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
