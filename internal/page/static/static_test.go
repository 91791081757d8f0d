package static

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/offerwatch/internal/page"
)

const fixture = `<html><body>
<div id="corePrice_feature_div"><span class="a-offscreen">€45,00</span></div>
<ul id="offers">
  <li class="offer" data-seller="one">First</li>
  <li class="offer" data-seller="two">Second</li>
</ul>
</body></html>`

func TestSessionNavigateAndQuery(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "offerwatch-test", r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, fixture)
	}))
	defer srv.Close()

	sess, err := NewFactory(Config{UserAgent: "offerwatch-test"}).NewSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	require.NoError(t, sess.Navigate(ctx, srv.URL))
	require.NoError(t, sess.Refresh(ctx))
	require.Equal(t, int32(2), hits.Load())

	offers, err := sess.FindAll(ctx, "#offers li.offer")
	require.NoError(t, err)
	require.Len(t, offers, 2)

	text, err := offers[1].Text(ctx)
	require.NoError(t, err)
	require.Equal(t, "Second", text)

	seller, err := offers[0].Attribute(ctx, "data-seller")
	require.NoError(t, err)
	require.Equal(t, "one", seller)
}

func TestSessionWaitForMissingTimesOut(t *testing.T) {
	t.Parallel()

	sess, err := NewFromHTML("https://example.com", fixture)
	require.NoError(t, err)

	_, err = sess.WaitFor(context.Background(), "#outOfStock", page.Present, time.Second)
	require.ErrorIs(t, err, page.ErrTimeout)

	el, err := sess.WaitFor(context.Background(), "#corePrice_feature_div", page.Clickable, time.Second)
	require.NoError(t, err)
	require.Equal(t, "€45,00", page.TextOf(context.Background(), el, ".a-offscreen"))
	require.Equal(t, "", page.TextOf(context.Background(), el, ".missing"))
}

func TestElementFindMissing(t *testing.T) {
	t.Parallel()

	sess, err := NewFromHTML("https://example.com", fixture)
	require.NoError(t, err)

	root, err := page.Find(context.Background(), sess, "#offers")
	require.NoError(t, err)
	_, err = root.Find(context.Background(), ".nothing")
	require.ErrorIs(t, err, page.ErrNotFound)

	_, err = page.Find(context.Background(), sess, "#nothing")
	require.ErrorIs(t, err, page.ErrNotFound)
}

func TestSessionClosedReportsLost(t *testing.T) {
	t.Parallel()

	sess, err := NewFromHTML("https://example.com", fixture)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	_, err = sess.FindAll(context.Background(), "li")
	require.ErrorIs(t, err, page.ErrSessionLost)
	require.ErrorIs(t, sess.Navigate(context.Background(), "https://example.com"), page.ErrSessionLost)
}

func TestSessionHTML(t *testing.T) {
	t.Parallel()

	sess, err := NewFromHTML("https://example.com", fixture)
	require.NoError(t, err)
	html, err := sess.HTML(context.Background())
	require.NoError(t, err)
	require.Contains(t, html, "corePrice_feature_div")
}
