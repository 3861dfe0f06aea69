package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/skillengine/workflow"
)

func TestResolveStringWholePlaceholderReturnsNativeValue(t *testing.T) {
	ip := workflow.NewInterpolator(
		map[string]any{"count": 3},
		map[string]any{},
		workflow.ModeStrict,
	)
	out, err := ip.ResolveString("${input.count}")
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestResolveStringMixedTextCoercesToString(t *testing.T) {
	ip := workflow.NewInterpolator(
		map[string]any{},
		map[string]any{"name": "alice"},
		workflow.ModeStrict,
	)
	out, err := ip.ResolveString("hello ${name}!")
	require.NoError(t, err)
	assert.Equal(t, "hello alice!", out)
}

func TestResolveStringBareTokenResolvesVariables(t *testing.T) {
	ip := workflow.NewInterpolator(
		map[string]any{},
		map[string]any{"x": "value"},
		workflow.ModeStrict,
	)
	out, err := ip.ResolveString("${x}")
	require.NoError(t, err)
	assert.Equal(t, "value", out)
}

func TestResolveStringStrictModeFailsOnUnresolvable(t *testing.T) {
	ip := workflow.NewInterpolator(map[string]any{}, map[string]any{}, workflow.ModeStrict)
	_, err := ip.ResolveString("${missing}")
	require.Error(t, err)
	var wfErr *workflow.Error
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, workflow.CodeInterpolationFailed, wfErr.Code)
}

func TestResolveStringLenientModeLeavesLiteral(t *testing.T) {
	ip := workflow.NewInterpolator(map[string]any{}, map[string]any{}, workflow.ModeLenient)
	out, err := ip.ResolveString("${missing}")
	require.NoError(t, err)
	assert.Equal(t, "${missing}", out)
}

func TestResolveStringInvalidTokenSyntax(t *testing.T) {
	ip := workflow.NewInterpolator(map[string]any{}, map[string]any{}, workflow.ModeStrict)
	_, err := ip.ResolveString("${a..b}")
	require.Error(t, err)
	var wfErr *workflow.Error
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, workflow.CodeInvalidToken, wfErr.Code)
}

func TestResolveValueWalksNestedContainers(t *testing.T) {
	ip := workflow.NewInterpolator(
		map[string]any{"a": map[string]any{"b": "deep"}},
		map[string]any{},
		workflow.ModeStrict,
	)
	input := map[string]any{
		"list": []any{"${input.a.b}", "literal"},
	}
	out, err := ip.ResolveValue(input)
	require.NoError(t, err)
	resolved, ok := out.(map[string]any)
	require.True(t, ok)
	list, ok := resolved["list"].([]any)
	require.True(t, ok)
	assert.Equal(t, "deep", list[0])
	assert.Equal(t, "literal", list[1])
}
