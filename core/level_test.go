package core

import "testing"

func TestResolveLevel(t *testing.T) {
	cases := []struct {
		points int64
		want   Level
	}{
		{0, LevelCitizen},
		{99, LevelCitizen},
		{100, LevelAdvocate},
		{499, LevelAdvocate},
		{500, LevelLeader},
		{10_000, LevelLeader},
	}
	for _, c := range cases {
		if got := ResolveLevel(c.points); got != c.want {
			t.Fatalf("ResolveLevel(%d) = %s, want %s", c.points, got, c.want)
		}
	}
}

func TestNextLevelProgress(t *testing.T) {
	cases := []struct {
		points     int64
		cur, next  Level
		percent    int
	}{
		{0, LevelCitizen, LevelAdvocate, 0},
		{50, LevelCitizen, LevelAdvocate, 50},
		{100, LevelAdvocate, LevelLeader, 0},
		{300, LevelAdvocate, LevelLeader, 50},
		{500, LevelLeader, LevelLeader, 100},
		{9000, LevelLeader, LevelLeader, 100},
	}
	for _, c := range cases {
		p := NextLevelProgress(c.points)
		if p.CurrentLevel != c.cur || p.NextLevel != c.next || p.ProgressPercent != c.percent {
			t.Fatalf("NextLevelProgress(%d) = %+v", c.points, p)
		}
	}
}

func TestLevelOrdering(t *testing.T) {
	if !LevelLeader.AtLeast(LevelAdvocate) || LevelCitizen.AtLeast(LevelAdvocate) {
		t.Fatal("unexpected ordering")
	}
	if _, err := ParseLevel("mayor"); err == nil {
		t.Fatal("expected unknown level error")
	}
	if len(LevelAdvocate.Features()) == 0 {
		t.Fatal("advocate should unlock features")
	}
}
