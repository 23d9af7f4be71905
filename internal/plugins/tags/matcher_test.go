package tags

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sliceScanner []CodeRecord

func (s sliceScanner) ScanCodes(_ context.Context, fn func(CodeRecord) bool) error {
	for _, r := range s {
		if !fn(r) {
			return nil
		}
	}
	return nil
}

type failingScanner struct{}

func (failingScanner) ScanCodes(context.Context, func(CodeRecord) bool) error {
	return errors.New("connection reset")
}

func sampleRecords() sliceScanner {
	return sliceScanner{
		{ID: "d1", External: CodeSet{"AB123", "XY999"}},
		{ID: "d2", External: CodeSet{"CD456"}, Sensor: CodeSet{"S-1", "S-2"}},
		{ID: "d3", External: CodeSet{"AB123"}},
	}
}

func TestFirstMatch_EveryExternalCodeFindsItsDeployment(t *testing.T) {
	src := sliceScanner{
		{ID: "d1", External: CodeSet{"A1", "A2"}},
		{ID: "d2", External: CodeSet{"B1", "B2", "B3"}},
	}
	for _, rec := range src {
		for _, code := range rec.External {
			got, err := FirstMatch(context.Background(), src, SplitCandidates(code))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != rec.ID {
				t.Errorf("code %s matched %q, want %q", code, got, rec.ID)
			}
		}
	}
}

func TestFirstMatch(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"single external code", "AB123", "d1"},
		{"second code in set", "XY999", "d1"},
		{"sensor code", "S-2", "d2"},
		{"comma list picks first deployment in scan order", "CD456, AB123", "d1"},
		{"whitespace trimmed", "  CD456 ", "d2"},
		{"no match", "ZZ000", ""},
		{"blank", "   ", ""},
		{"case sensitive", "ab123", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FirstMatch(context.Background(), sampleRecords(), SplitCandidates(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("FirstMatch(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFirstMatch_ScannerError(t *testing.T) {
	if _, err := FirstMatch(context.Background(), failingScanner{}, []string{"AB123"}); err == nil {
		t.Fatal("expected scanner error")
	}
}

func TestFirstMatch_EmptyCandidatesSkipsScan(t *testing.T) {
	got, err := FirstMatch(context.Background(), failingScanner{}, nil)
	if err != nil || got != "" {
		t.Errorf("got (%q, %v), want no match and no error", got, err)
	}
}

func TestParseCodeSet(t *testing.T) {
	got := ParseCodeSet(" A1, B2 ,,A1, C3 ")
	want := CodeSet{"A1", "B2", "C3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if got.String() != "A1,B2,C3" {
		t.Errorf("String() = %q", got.String())
	}
	if len(ParseCodeSet("")) != 0 {
		t.Error("empty input should give an empty set")
	}
}

func TestLatestDeployment(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name  string
		cands []activeCandidate
		want  string
	}{
		{"none", nil, ""},
		{"single", []activeCandidate{{ID: "a", ReleaseDate: day(1)}}, "a"},
		{
			"greatest release date wins regardless of creation order",
			[]activeCandidate{
				{ID: "late", ReleaseDate: day(20), CreatedAt: day(1)},
				{ID: "early", ReleaseDate: day(5), CreatedAt: day(2)},
			},
			"late",
		},
		{
			"tie broken by latest creation",
			[]activeCandidate{
				{ID: "first", ReleaseDate: day(5), CreatedAt: day(1)},
				{ID: "second", ReleaseDate: day(5), CreatedAt: day(3)},
			},
			"second",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := latestDeployment(tt.cands); got != tt.want {
				t.Errorf("latestDeployment = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeployedAt(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC) }
	list := []Deployment{
		{ID: "spring", ReleaseDate: day(5), CreatedAt: day(1)},
		{ID: "summer", ReleaseDate: day(20), CreatedAt: day(2)},
		{ID: "summer-fix", ReleaseDate: day(20), CreatedAt: day(3)},
	}

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"before any release", day(1), ""},
		{"release day", day(5), "spring"},
		{"between releases", day(12).Add(6 * time.Hour), "spring"},
		{"after the redeployment", day(25), "summer-fix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ""
			if d := DeployedAt(list, tt.at); d != nil {
				got = d.ID
			}
			if got != tt.want {
				t.Errorf("DeployedAt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeploymentDateRange(t *testing.T) {
	d := &Deployment{TagCode: "A69-1601-1234"}
	if d.DateRange() != NoDateInformation {
		t.Errorf("DateRange() = %q", d.DateRange())
	}

	d.ReleaseDate = time.Date(2019, 5, 2, 14, 0, 0, 0, time.UTC)
	if got := d.DisplayName(); got != "A69-1601-1234 - 2019-05-02" {
		t.Errorf("DisplayName() = %q", got)
	}

	found := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)
	d.Ending = &found
	if got := d.DateRange(); got != "2019-05-02/2020-03-15" {
		t.Errorf("DateRange() = %q", got)
	}
	if !d.Starting().Equal(d.ReleaseDate) {
		t.Error("Starting should be the release date")
	}
}
