package dom

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jasonzhangf/webauto-sub011/internal/selector"
)

const leakFixture = `
<html><body>
  <div class="scope">
    <a class="inside" href="/in">Inside</a>
  </div>
  <a class="outside" href="/out">Outside</a>
  <span class="outside">Stray</span>
</body></html>`

func TestStaticDocumentQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nodes in document order", func(t *testing.T) {
		doc, err := ParseStaticString(`<ul><li>a</li><li>b</li><li>c</li></ul>`)
		require.NoError(t, err)

		nodes, err := doc.Query(ctx, "li")
		require.NoError(t, err)
		require.Len(t, nodes, 3)

		text, err := doc.Text(ctx, nodes[1])
		require.NoError(t, err)
		assert.Equal(t, "b", text)
	})

	t.Run("invalid selector yields typed error", func(t *testing.T) {
		doc, err := ParseStaticString(`<p>x</p>`)
		require.NoError(t, err)

		_, err = doc.Query(ctx, "p[[")
		require.Error(t, err)
		var synErr *selector.SyntaxError
		require.ErrorAs(t, err, &synErr)
	})

	t.Run("composed group never escapes the parent scope", func(t *testing.T) {
		doc, err := ParseStaticString(leakFixture)
		require.NoError(t, err)

		// Clause 2 of the raw group matches outside the scope on its own.
		raw := "a.inside, .outside"
		stray, err := doc.Query(ctx, raw)
		require.NoError(t, err)
		require.Len(t, stray, 3, "unscoped group reaches outside nodes")

		composed := selector.Compose("div.scope", raw)
		scoped, err := doc.Query(ctx, composed)
		require.NoError(t, err)
		require.Len(t, scoped, 1)

		text, err := doc.Text(ctx, scoped[0])
		require.NoError(t, err)
		assert.Equal(t, "Inside", text)
	})
}

func TestStaticDocumentAttributes(t *testing.T) {
	ctx := context.Background()
	doc, err := ParseStaticString(`<div id="box" data-x="1">content</div>`)
	require.NoError(t, err)

	nodes, err := doc.Query(ctx, "#box")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	node := nodes[0]

	val, ok, err := doc.Attribute(ctx, node, "data-x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", val)

	_, ok, err = doc.Attribute(ctx, node, "data-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	// Mutations must be visible to subsequent queries.
	require.NoError(t, doc.SetAttribute(ctx, node, "data-mark", "m1"))
	marked, err := doc.Query(ctx, `[data-mark="m1"]`)
	require.NoError(t, err)
	require.Len(t, marked, 1)
	assert.Equal(t, node.Key(), marked[0].Key())
}

func TestStaticDocumentPath(t *testing.T) {
	ctx := context.Background()
	doc, err := ParseStaticString(`<div><p>one</p><p>two</p></div>`)
	require.NoError(t, err)

	nodes, err := doc.Query(ctx, "p")
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	first, err := doc.Path(ctx, nodes[0])
	require.NoError(t, err)
	second, err := doc.Path(ctx, nodes[1])
	require.NoError(t, err)

	assert.Contains(t, second, "p:nth-of-type(2)")
	assert.NotEqual(t, first, second)
}

func TestStaticDocumentConcurrentQueryAndMark(t *testing.T) {
	ctx := context.Background()
	doc, err := ParseStaticString(`<ul>
		<li class="row">a</li><li class="row">b</li><li class="row">c</li>
		<li class="row">d</li><li class="row">e</li><li class="row">f</li>
	</ul>`)
	require.NoError(t, err)

	nodes, err := doc.Query(ctx, "li.row")
	require.NoError(t, err)
	require.Len(t, nodes, 6)

	// Readers traverse the tree while a writer marks nodes. Run under the
	// race detector.
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				found, err := doc.Query(ctx, `li.row[data-mark]`)
				assert.NoError(t, err)
				for _, n := range found {
					_, _, err := doc.Attribute(ctx, n, "data-mark")
					assert.NoError(t, err)
					_, err = doc.Text(ctx, n)
					assert.NoError(t, err)
					_, err = doc.Path(ctx, n)
					assert.NoError(t, err)
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			node := nodes[i%len(nodes)]
			assert.NoError(t, doc.SetAttribute(ctx, node, "data-mark", strconv.Itoa(i)))
		}
	}()

	wg.Wait()

	marked, err := doc.Query(ctx, `li.row[data-mark]`)
	require.NoError(t, err)
	assert.Len(t, marked, 6)
}

func TestStaticDocumentRejectsForeignNodes(t *testing.T) {
	ctx := context.Background()
	docA, err := ParseStaticString(`<p>a</p>`)
	require.NoError(t, err)
	docB, err := ParseStaticString(`<p>b</p>`)
	require.NoError(t, err)

	nodes, err := docA.Query(ctx, "p")
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	_, _, err = docB.Attribute(ctx, nodes[0], "id")
	assert.ErrorIs(t, err, ErrForeignNode)
}
