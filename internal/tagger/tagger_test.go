package tagger

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jasonzhangf/webauto-sub011/internal/dom"
)

const listFixture = `
<html><body>
  <ul class="feed">
    <li class="entry">zero</li>
    <li class="entry">one</li>
    <li class="entry">two</li>
  </ul>
</body></html>`

func TestTagByIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("marks the requested element and re-selects it", func(t *testing.T) {
		doc, err := dom.ParseStaticString(listFixture)
		require.NoError(t, err)
		tg := New(zap.NewNop())

		res, err := tg.TagByIndex(ctx, doc, "ul.feed", "li.entry", 1)
		require.NoError(t, err)
		require.True(t, res.ElementFound)
		require.NotEmpty(t, res.NewScopeSelector)

		nodes, err := doc.Query(ctx, res.NewScopeSelector)
		require.NoError(t, err)
		require.Len(t, nodes, 1, "marker selector must resolve to exactly the tagged node")

		text, err := doc.Text(ctx, nodes[0])
		require.NoError(t, err)
		assert.Equal(t, "one", text)
	})

	t.Run("is idempotent for the same resolved element", func(t *testing.T) {
		doc, err := dom.ParseStaticString(listFixture)
		require.NoError(t, err)
		tg := New(zap.NewNop())

		first, err := tg.TagByIndex(ctx, doc, "ul.feed", "li.entry", 2)
		require.NoError(t, err)
		second, err := tg.TagByIndex(ctx, doc, "ul.feed", "li.entry", 2)
		require.NoError(t, err)

		assert.Equal(t, first.NewScopeSelector, second.NewScopeSelector)

		// Exactly one marker attribute exists on the node.
		marked, err := doc.Query(ctx, fmt.Sprintf("li.entry[%s]", MarkerAttr))
		require.NoError(t, err)
		assert.Len(t, marked, 1)
	})

	t.Run("index out of range mutates nothing", func(t *testing.T) {
		doc, err := dom.ParseStaticString(listFixture)
		require.NoError(t, err)
		tg := New(zap.NewNop())

		res, err := tg.TagByIndex(ctx, doc, "ul.feed", "li.entry", 3)
		require.Error(t, err)
		assert.False(t, res.ElementFound)
		assert.Empty(t, res.NewScopeSelector)

		var idxErr *IndexError
		require.ErrorAs(t, err, &idxErr)
		assert.Equal(t, 3, idxErr.Index)
		assert.Equal(t, 3, idxErr.Count)

		marked, err := doc.Query(ctx, fmt.Sprintf("[%s]", MarkerAttr))
		require.NoError(t, err)
		assert.Empty(t, marked)
	})

	t.Run("distinct indexes get distinct markers", func(t *testing.T) {
		doc, err := dom.ParseStaticString(listFixture)
		require.NoError(t, err)
		tg := New(zap.NewNop())

		a, err := tg.TagByIndex(ctx, doc, "ul.feed", "li.entry", 0)
		require.NoError(t, err)
		b, err := tg.TagByIndex(ctx, doc, "ul.feed", "li.entry", 1)
		require.NoError(t, err)
		assert.NotEqual(t, a.NewScopeSelector, b.NewScopeSelector)
	})

	t.Run("comma-grouped item selectors stay scoped", func(t *testing.T) {
		doc, err := dom.ParseStaticString(`
			<div class="scope"><b class="x">in</b></div>
			<b class="y">out</b>`)
		require.NoError(t, err)
		tg := New(zap.NewNop())

		// Unscoped, ".y" would match the outside node and shift indexes.
		res, err := tg.TagByIndex(ctx, doc, "div.scope", ".x, .y", 0)
		require.NoError(t, err)
		require.True(t, res.ElementFound)

		nodes, err := doc.Query(ctx, res.NewScopeSelector)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		text, err := doc.Text(ctx, nodes[0])
		require.NoError(t, err)
		assert.Equal(t, "in", text)
	})
}
