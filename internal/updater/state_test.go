// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/internal/release"
	"github.com/invowk/upkeep/internal/version"
)

func TestIntervalDue(t *testing.T) {
	t.Parallel()

	last := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		interval Interval
		last     time.Time
		now      time.Time
		want     bool
	}{
		{"zero interval", Interval{}, last, last, true},
		{"never checked", Interval{Days: 1}, time.Time{}, last, true},
		{"inside interval", Interval{Hours: 2}, last, last.Add(time.Hour), false},
		{"exactly at boundary", Interval{Hours: 2}, last, last.Add(2 * time.Hour), true},
		{"minutes", Interval{Minutes: 30}, last, last.Add(29 * time.Minute), false},
		{"month rolls calendar", Interval{Months: 1}, last, last.AddDate(0, 0, 20), false},
		{"month elapsed", Interval{Months: 1}, last, last.AddDate(0, 2, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.interval.Due(tt.last, tt.now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIntervalString(t *testing.T) {
	t.Parallel()

	if got := (Interval{}).String(); got != "always" {
		t.Errorf("zero String() = %q", got)
	}
	if got := (Interval{Months: 1, Days: 2, Minutes: 4}).String(); got != "1mo2d4m" {
		t.Errorf("String() = %q, want 1mo2d4m", got)
	}
}

func TestPhaseText(t *testing.T) {
	t.Parallel()

	for p := PhaseIdle; p <= PhaseError; p++ {
		text, err := p.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var back Phase
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if back != p {
			t.Errorf("%q decoded to %v", text, back)
		}
	}
	var p Phase
	if err := p.UnmarshalText([]byte("exploded")); err == nil {
		t.Error("unknown phase accepted")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()

	s := State{
		CurrentVersion: version.Tuple{1, 2, 3},
		Selected:       &release.Candidate{Name: "v2", Version: version.Tuple{2}},
	}
	c := s.clone()
	c.CurrentVersion[0] = 9
	c.Selected.Version[0] = 9
	c.Selected.Name = "changed"
	if s.CurrentVersion[0] != 1 || s.Selected.Version[0] != 2 || s.Selected.Name != "v2" {
		t.Errorf("clone shares memory with the original: %+v", s)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "upkeep.toml")
	store := NewFileStore(path)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("Load() on missing file = %v, %v; want false, nil", ok, err)
	}

	checked := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	want := State{
		CurrentVersion: version.Tuple{1, 4, 0},
		LastCheck:      checked,
		UpdateReady:    true,
		Selected: &release.Candidate{
			Name:       "v1.5.0",
			Version:    version.Tuple{1, 5, 0},
			ArchiveURL: "https://example.com/v1.5.0.zip",
			Source:     release.SourceTags,
		},
		Interval:  Interval{Days: 7},
		Phase:     PhaseError,
		LastError: &ErrorInfo{Kind: fault.KindArchive, Message: "bad zip"},
		Ignored:   true,
	}
	want.IgnoredName = "v1.5.0"
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	if version.Compare(got.CurrentVersion, want.CurrentVersion, version.PrefixLess) != 0 {
		t.Errorf("CurrentVersion = %v", got.CurrentVersion)
	}
	if !got.LastCheck.Equal(checked) {
		t.Errorf("LastCheck = %v, want %v", got.LastCheck, checked)
	}
	if got.Phase != PhaseError || got.Interval != want.Interval {
		t.Errorf("Phase = %v, Interval = %v", got.Phase, got.Interval)
	}
	if got.Selected == nil || got.Selected.Name != "v1.5.0" || got.Selected.Source != release.SourceTags {
		t.Errorf("Selected = %+v", got.Selected)
	}
	if got.LastError == nil || got.LastError.Kind != fault.KindArchive {
		t.Errorf("LastError = %+v", got.LastError)
	}
	if !got.Ignored || got.IgnoredName != "v1.5.0" {
		t.Errorf("Ignored = %v, IgnoredName = %q", got.Ignored, got.IgnoredName)
	}
}

func TestFileStoreKeepsIntervalGateAcrossRestart(t *testing.T) {
	t.Parallel()

	f := newFakeForge(t, "v2.0.0", "v1.0.0")
	path := filepath.Join(t.TempDir(), "state.toml")
	hourly := func(c *Config) { c.Interval = Interval{Hours: 1} }

	first := newFixture(t, f, hourly, WithStore(NewFileStore(path)))
	if _, err := first.engine.CheckForUpdate(context.Background()); err != nil {
		t.Fatalf("CheckForUpdate() error = %v", err)
	}
	checked := first.engine.Snapshot().LastCheck
	if err := first.engine.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "last_check") {
		t.Errorf("state file has no last_check:\n%s", data)
	}

	second := newFixture(t, f, hourly, WithStore(NewFileStore(path)))
	if got := second.engine.Snapshot().LastCheck; !got.Equal(checked) {
		t.Fatalf("reloaded LastCheck = %v, want %v", got, checked)
	}
	if ch := second.engine.CheckForUpdateBackground(); ch != nil {
		<-ch
		t.Error("background check ran inside the interval after a restart")
	}
	if got := f.requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}

	second.clock.Advance(time.Hour)
	ch := second.engine.CheckForUpdateBackground()
	if ch == nil {
		t.Fatal("background check did not start once the interval elapsed")
	}
	if res := <-ch; res.Err != nil {
		t.Errorf("background check error = %v", res.Err)
	}
}

func TestPhaseBusy(t *testing.T) {
	t.Parallel()

	for p := PhaseIdle; p <= PhaseError; p++ {
		want := p == PhaseStaging || p == PhaseApplying
		if got := p.Busy(); got != want {
			t.Errorf("%v.Busy() = %v, want %v", p, got, want)
		}
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "upkeep.toml")
	if err := os.WriteFile(path, []byte("phase = [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := NewFileStore(path).Load()
	if !errors.Is(err, fault.ErrParse) {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestMemoryStoreCountsSaves(t *testing.T) {
	t.Parallel()

	var m MemoryStore
	if _, ok, _ := m.Load(); ok {
		t.Error("empty store reported saved state")
	}
	_ = m.Save(State{Phase: PhaseApplied})
	_ = m.Save(State{Phase: PhaseIdle})
	if m.Saves() != 2 {
		t.Errorf("Saves() = %d, want 2", m.Saves())
	}
	s, ok, _ := m.Load()
	if !ok || s.Phase != PhaseIdle {
		t.Errorf("Load() = %+v, %v", s, ok)
	}
}
