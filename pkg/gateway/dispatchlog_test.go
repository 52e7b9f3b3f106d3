package gateway

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
)

func collectSeqs(l *DispatchLog, after uint64) []uint64 {
	var out []uint64
	for ev := range l.ReplayFrom(after) {
		out = append(out, ev.Seq)
	}
	return out
}

func TestDispatchLogAppend(t *testing.T) {
	l := NewDispatchLog(4)

	if l.MaxSeq() != 0 || l.Len() != 0 {
		t.Fatalf("empty log MaxSeq=%d Len=%d", l.MaxSeq(), l.Len())
	}
	if l.MinSeq() != 1 {
		t.Errorf("empty log MinSeq = %d, want 1", l.MinSeq())
	}

	for want := uint64(1); want <= 3; want++ {
		if got := l.Append(Event{Type: "E"}); got != want {
			t.Fatalf("Append = %d, want %d", got, want)
		}
	}
	if l.MinSeq() != 1 || l.MaxSeq() != 3 || l.Len() != 3 {
		t.Errorf("MinSeq=%d MaxSeq=%d Len=%d, want 1/3/3", l.MinSeq(), l.MaxSeq(), l.Len())
	}
}

func TestDispatchLogWraparound(t *testing.T) {
	l := NewDispatchLog(4)
	for range 10 {
		l.Append(Event{Type: "E"})
	}

	if l.Len() != 4 {
		t.Errorf("Len = %d, want 4", l.Len())
	}
	if l.MinSeq() != 7 || l.MaxSeq() != 10 {
		t.Errorf("range = [%d, %d], want [7, 10]", l.MinSeq(), l.MaxSeq())
	}
	if got := collectSeqs(l, 6); !slices.Equal(got, []uint64{7, 8, 9, 10}) {
		t.Errorf("ReplayFrom(6) = %v", got)
	}
	if got := collectSeqs(l, 8); !slices.Equal(got, []uint64{9, 10}) {
		t.Errorf("ReplayFrom(8) = %v", got)
	}
	if got := collectSeqs(l, 10); len(got) != 0 {
		t.Errorf("ReplayFrom(10) = %v, want empty", got)
	}
}

func TestDispatchLogCovers(t *testing.T) {
	l := NewDispatchLog(4)
	if !l.Covers(0) {
		t.Error("empty log should cover 0")
	}
	if l.Covers(1) {
		t.Error("empty log should not cover 1")
	}

	for range 10 {
		l.Append(Event{Type: "E"})
	}

	tests := []struct {
		after uint64
		want  bool
	}{
		{0, false},
		{5, false},
		{6, true},
		{9, true},
		{10, true},
		{11, false},
	}
	for _, tt := range tests {
		if got := l.Covers(tt.after); got != tt.want {
			t.Errorf("Covers(%d) = %v, want %v", tt.after, got, tt.want)
		}
	}
}

func TestDispatchLogReplayKeepsData(t *testing.T) {
	l := NewDispatchLog(8)
	l.Append(Event{Type: "A", Data: json.RawMessage(`{"n":1}`)})
	l.Append(Event{Type: "B", Data: json.RawMessage(`{"n":2}`)})

	var types []string
	for ev := range l.ReplayFrom(0) {
		types = append(types, ev.Type)
		if ev.At.IsZero() {
			t.Errorf("event %d has no timestamp", ev.Seq)
		}
	}
	if !slices.Equal(types, []string{"A", "B"}) {
		t.Errorf("types = %v", types)
	}
}

func TestDispatchLogReplayStopsEarly(t *testing.T) {
	l := NewDispatchLog(8)
	for range 5 {
		l.Append(Event{Type: "E"})
	}

	var got []uint64
	for ev := range l.ReplayFrom(0) {
		got = append(got, ev.Seq)
		if ev.Seq == 2 {
			break
		}
	}
	if !slices.Equal(got, []uint64{1, 2}) {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestDispatchLogReplaySnapshotsMax(t *testing.T) {
	l := NewDispatchLog(8)
	l.Append(Event{Type: "E"})
	l.Append(Event{Type: "E"})

	var got []uint64
	for ev := range l.ReplayFrom(0) {
		got = append(got, ev.Seq)
		if ev.Seq == 1 {
			l.Append(Event{Type: "late"})
		}
	}
	if !slices.Equal(got, []uint64{1, 2}) {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestDispatchLogSealFailure(t *testing.T) {
	l := NewDispatchLog(4)
	l.Append(Event{Type: "E"})

	sealErr := errors.New("seal failed")
	if _, err := l.append(Event{Type: "bad"}, func(*Event) error { return sealErr }); !errors.Is(err, sealErr) {
		t.Fatalf("append error = %v, want %v", err, sealErr)
	}
	if l.MaxSeq() != 1 || l.Len() != 1 {
		t.Errorf("failed append consumed a sequence number: MaxSeq=%d Len=%d", l.MaxSeq(), l.Len())
	}
	if got := l.Append(Event{Type: "E"}); got != 2 {
		t.Errorf("next Append = %d, want 2", got)
	}
}

func TestDispatchLogConcurrentAppend(t *testing.T) {
	l := NewDispatchLog(1000)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				l.Append(Event{Type: "E"})
			}
		}()
	}
	wg.Wait()

	if l.MaxSeq() != 1000 {
		t.Fatalf("MaxSeq = %d, want 1000", l.MaxSeq())
	}
	want := uint64(1)
	for ev := range l.ReplayFrom(0) {
		if ev.Seq != want {
			t.Fatalf("seq = %d, want %d", ev.Seq, want)
		}
		want++
	}
}
