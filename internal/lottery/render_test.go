package lottery

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRenderAnnouncement(t *testing.T) {
	draw := DrawResult{Date: "2024-05-10", Numbers: []int{3, 15, 22, 41, 47}, Stars: []int{2, 9}}
	g := newGoldie(t)
	g.Assert(t, "announcement_partial", []byte(RenderAnnouncement(draw, Selection{3, 15, 30, 41, 50, 2, 11})))
	g.Assert(t, "announcement_none", []byte(RenderAnnouncement(draw, Selection{1, 4, 5, 6, 7, 1, 3})))
}

func TestRenderCheck(t *testing.T) {
	draw := DrawResult{Date: "2024-05-10", Numbers: []int{3, 15, 22, 41, 47}, Stars: []int{2, 9}}
	g := newGoldie(t)
	g.Assert(t, "check_partial", []byte(RenderCheck(draw, Selection{3, 15, 30, 41, 50, 2, 11})))
}

func TestRenderSaved(t *testing.T) {
	g := newGoldie(t)
	g.Assert(t, "saved", []byte(RenderSaved(Selection{5, 12, 23, 34, 45, 3, 11})))
}
