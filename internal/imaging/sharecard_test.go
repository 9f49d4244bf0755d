package imaging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderProducesCardSizedJPEG(t *testing.T) {
	r := &CardRenderer{}
	out, err := r.Render(CardInput{
		Screenshot: testJPEG(t, 1200, 630),
		Roast:      "The headline promises the moon and the button delivers a 404.",
		Score:      6,
		URL:        "https://example.com/landing",
	})
	require.NoError(t, err)
	w, h := decodeDims(t, out)
	require.Equal(t, cardWidth, w)
	require.Equal(t, cardHeight, h)
}

func TestRenderIsDeterministic(t *testing.T) {
	r := &CardRenderer{}
	in := CardInput{
		Screenshot: testJPEG(t, 800, 500),
		Roast:      "Same input, same card.",
		Score:      8,
		URL:        "https://example.com/",
	}
	first, err := r.Render(in)
	require.NoError(t, err)
	second, err := r.Render(in)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRenderWithoutScreenshot(t *testing.T) {
	r := &CardRenderer{}
	out, err := r.Render(CardInput{
		Roast: "No screenshot, still judged.",
		Score: 3,
		URL:   "https://example.com/",
	})
	require.NoError(t, err)
	w, h := decodeDims(t, out)
	require.Equal(t, cardWidth, w)
	require.Equal(t, cardHeight, h)
}

func TestRenderSurvivesHostileText(t *testing.T) {
	r := &CardRenderer{}
	longURL := "https://example.com/" + string(make([]byte, 200))
	_, err := r.Render(CardInput{
		Roast: "Control\x00chars\x1band a roast long enough to need wrapping across more than three lines, " +
			"because models ramble when they think nobody is counting their tokens or their adjectives.",
		Score: -5,
		URL:   longURL,
	})
	require.NoError(t, err)
}

func TestScoreColorBands(t *testing.T) {
	require.Equal(t, "#10b981", scoreColor(9))
	require.Equal(t, "#10b981", scoreColor(8))
	require.Equal(t, "#f59e0b", scoreColor(7))
	require.Equal(t, "#f97316", scoreColor(5))
	require.Equal(t, "#ef4444", scoreColor(2))
	require.Equal(t, "#ef4444", scoreColor(-1), "scores clamp before banding")
}

func TestTruncateURL(t *testing.T) {
	short := "https://example.com/"
	require.Equal(t, short, truncateURL(short))

	long := short + string(make([]rune, 0))
	for len(long) < 100 {
		long += "segment/"
	}
	got := truncateURL(long)
	require.LessOrEqual(t, len([]rune(got)), maxURLRunes+1)
}
