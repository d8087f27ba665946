package module

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentJSONRoundTripKeepsNestingAndOrder(t *testing.T) {
	fragment := Node("parent",
		Leaf("first"),
		Node("child",
			Leaf("nested"),
		),
		Leaf("last"),
	)

	data, err := json.Marshal(fragment)
	require.NoError(t, err)

	var got Fragment
	require.NoError(t, json.Unmarshal(data, &got))

	require.Len(t, got.Children, 3)
	assert.Equal(t, "parent", got.Title)
	assert.Equal(t, "first", got.Children[0].Text)
	assert.Equal(t, "child", got.Children[1].Title)
	assert.Equal(t, "nested", got.Children[1].Children[0].Text)
	assert.Equal(t, "last", got.Children[2].Text)
}

func TestFragmentMarkdownLeaf(t *testing.T) {
	assert.Equal(t, "hello", Leaf("hello").Markdown())
}

func TestFragmentMarkdownTitledLeaf(t *testing.T) {
	fragment := &Fragment{Title: "Summary", Text: "all good"}

	md := fragment.Markdown()

	assert.Contains(t, md, "**Summary**")
	assert.Contains(t, md, "all good")
}

func TestFragmentMarkdownNode(t *testing.T) {
	md := Node("Errors", Leaf("none")).Markdown()

	assert.Contains(t, md, "<details>\n<summary>Errors</summary>")
	assert.Contains(t, md, "none")
	assert.Contains(t, md, "</details>")
}

func TestFragmentMarkdownEscapesText(t *testing.T) {
	md := Leaf("<b>bold</b>").Markdown()

	assert.Equal(t, "&lt;b&gt;bold&lt;/b&gt;", md)
}

func TestFragmentIsLeaf(t *testing.T) {
	assert.True(t, Leaf("x").IsLeaf())
	assert.False(t, Node("t", Leaf("x")).IsLeaf())
}
