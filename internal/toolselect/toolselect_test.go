package toolselect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riftloop/agentkernel/internal/kernel"
)

func catalog() []kernel.ToolDescriptor {
	return []kernel.ToolDescriptor{
		{Name: "Read", Keywords: []string{"read", "open", "view", "file"}},
		{Name: "Edit", Keywords: []string{"edit", "write", "replace", "file"}},
		{Name: "Shell", Keywords: []string{"run", "execute", "command", "build", "test"}},
		{Name: "Grep", Keywords: []string{"search", "find", "grep"}, AlwaysInclude: true},
	}
}

func TestSelectRanksByKeywordOverlap(t *testing.T) {
	s := New()
	result := s.Select("please run the build and tests", catalog())

	names := toolNames(result.Tools)
	assert.Contains(t, names, "Shell")
	assert.Contains(t, names, "Grep", "AlwaysInclude tools are always selected")
	assert.Greater(t, result.Confidence, 0.0)
}

func TestSelectAlwaysIncludesConfiguredNames(t *testing.T) {
	s := New("Edit")
	result := s.Select("totally unrelated input about weather", catalog())
	assert.Contains(t, toolNames(result.Tools), "Edit")
}

func TestSelectRespectsMaxTools(t *testing.T) {
	s := New()
	s.MaxTools = 2
	result := s.Select("read open view edit write replace run execute", catalog())
	assert.LessOrEqual(t, len(result.Tools), 2)
}

func TestAutoDiscoveryHintBelowThreshold(t *testing.T) {
	result := Result{Confidence: 0.1}
	assert.NotEmpty(t, AutoDiscoveryHint(result, 0.35))
}

func TestAutoDiscoveryHintAboveThresholdIsEmpty(t *testing.T) {
	result := Result{Confidence: 0.9}
	assert.Empty(t, AutoDiscoveryHint(result, 0.35))
}

func toolNames(tools []kernel.ToolDescriptor) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
