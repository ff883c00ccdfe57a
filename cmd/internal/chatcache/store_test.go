package chatcache

import (
	"errors"
	"reflect"
	"testing"
)

func newTestStore(strict bool) *Store {
	return NewStore(discardLogger(), newFakeClock().Now, strict)
}

func TestStore_SetMessagesDedupesFirstPositionLastValue(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	s.SetMessages("c1", []Message{
		{ID: "a", Text: "one"},
		{ID: "b", Text: "two"},
		{ID: "a", Text: "one-edited"},
	}, SetOptions{Authoritative: true})

	got := s.Messages("c1")
	if want := []string{"a", "b"}; !reflect.DeepEqual(messageIDs(got), want) {
		t.Fatalf("ids=%v want=%v", messageIDs(got), want)
	}
	if got[0].Text != "one-edited" {
		t.Fatalf("text=%q want=%q", got[0].Text, "one-edited")
	}
}

func TestStore_MessagesAbsentIsEmpty(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	got := s.Messages("missing")
	if got == nil || len(got) != 0 {
		t.Fatalf("Messages(missing)=%v want empty non-nil", got)
	}
}

func TestStore_AppendIsIdempotentAndCreates(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	if !s.AppendMessage("c1", Message{ID: "m1"}) {
		t.Fatalf("first append not applied")
	}
	if s.AppendMessage("c1", Message{ID: "m1", Text: "again"}) {
		t.Fatalf("duplicate append applied")
	}
	if s.AppendMessage("c1", Message{}) {
		t.Fatalf("append without id applied")
	}

	st, ok := s.Status("c1")
	if !ok || st != StatusUnloaded {
		t.Fatalf("status=%v ok=%v want unloaded", st, ok)
	}
	if n := len(s.Messages("c1")); n != 1 {
		t.Fatalf("len=%d want=1", n)
	}
}

func TestStore_NonAuthoritativeEmptyKeepsLoadedHistory(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	s.SetMessages("c1", []Message{{ID: "a"}}, SetOptions{Authoritative: true})
	if _, err := s.BeginLoad("c1"); err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	if err := s.MarkLoaded("c1"); err != nil {
		t.Fatalf("MarkLoaded: %v", err)
	}

	if s.SetMessages("c1", nil, SetOptions{}) {
		t.Fatalf("non-authoritative empty write applied")
	}
	if n := len(s.Messages("c1")); n != 1 {
		t.Fatalf("len=%d want=1", n)
	}

	if !s.SetMessages("c1", nil, SetOptions{Authoritative: true}) {
		t.Fatalf("authoritative empty write not applied")
	}
	if n := len(s.Messages("c1")); n != 0 {
		t.Fatalf("len=%d want=0", n)
	}
}

func TestStore_RequireLoaded(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	if s.SetMessages("c1", []Message{{ID: "a"}}, SetOptions{RequireLoaded: true}) {
		t.Fatalf("write applied to absent entry")
	}
	if s.Len() != 0 {
		t.Fatalf("entry created: len=%d", s.Len())
	}
}

func TestStore_InvariantViolations(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)

	cases := []struct {
		name string
		run  func() error
	}{
		{"set channel absent", func() error { return s.SetChannel("nope", &fakeChannel{}) }},
		{"remove absent", func() error { return s.Remove("nope") }},
		{"mark loaded absent", func() error { return s.MarkLoaded("nope") }},
		{"mark failed absent", func() error { return s.MarkFailed("nope", errors.New("x")) }},
		{"mark loaded from unloaded", func() error {
			s.AppendMessage("u", Message{ID: "1"})
			return s.MarkLoaded("u")
		}},
		{"begin load twice", func() error {
			if _, err := s.BeginLoad("twice"); err != nil {
				return nil
			}
			_, err := s.BeginLoad("twice")
			return err
		}},
	}

	for _, tc := range cases {
		err := tc.run()
		if !errors.Is(err, ErrInvariantViolation) {
			t.Fatalf("%s: err=%v want ErrInvariantViolation", tc.name, err)
		}
		var ie *InvariantError
		if !errors.As(err, &ie) || ie.Op == "" {
			t.Fatalf("%s: err=%T want *InvariantError with op", tc.name, err)
		}
	}
}

func TestStore_StrictInvariantsPanic(t *testing.T) {
	t.Parallel()

	s := newTestStore(true)
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrInvariantViolation) {
			t.Fatalf("recover()=%v want invariant error", r)
		}
	}()
	_ = s.SetChannel("nope", &fakeChannel{})
	t.Fatalf("expected panic")
}

func TestStore_RemoveRequiresDetachedListener(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	s.AppendMessage("c1", Message{ID: "1"})
	s.setListener("c1", true)

	if err := s.Remove("c1"); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("Remove with listener: err=%v", err)
	}
	s.setListener("c1", false)
	if err := s.Remove("c1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("len=%d want=0", s.Len())
	}
}

func TestStore_TransitionsAndRetry(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	created, err := s.BeginLoad("c1")
	if err != nil || !created {
		t.Fatalf("BeginLoad: created=%v err=%v", created, err)
	}
	if err := s.MarkFailed("c1", errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	info, _ := s.Info("c1")
	if info.Status != StatusError || info.LastError != "boom" {
		t.Fatalf("info=%+v", info)
	}

	created, err = s.BeginLoad("c1")
	if err != nil || created {
		t.Fatalf("retry BeginLoad: created=%v err=%v", created, err)
	}
	if err := s.MarkLoaded("c1"); err != nil {
		t.Fatalf("MarkLoaded: %v", err)
	}
	if !s.IsLoaded("c1") {
		t.Fatalf("IsLoaded=false")
	}
	if _, err := s.BeginLoad("c1"); err == nil {
		t.Fatalf("BeginLoad on loaded entry succeeded")
	}
}

func TestStore_ObserveOrderAndCancel(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	var got []ChangeKind
	cancel := s.Observe(func(c Change) { got = append(got, c.Kind) })

	s.SetMessages("c1", []Message{{ID: "a"}}, SetOptions{Authoritative: true})
	s.AppendMessage("c1", Message{ID: "b"})
	s.AppendMessage("c1", Message{ID: "b"})
	s.MarkRead("c1")
	s.MarkRead("c1")
	cancel()
	cancel()
	s.AppendMessage("c1", Message{ID: "c"})

	want := []ChangeKind{ChangeMessages, ChangeAppend, ChangeRead}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("changes=%v want=%v", got, want)
	}
}

func TestStore_ObserverMayReadStore(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	var seen int
	s.Observe(func(c Change) { seen = len(s.Messages(c.ConversationID)) })

	s.AppendMessage("c1", Message{ID: "a"})
	if seen != 1 {
		t.Fatalf("observer saw %d messages want=1", seen)
	}
}

func TestStore_StatsAndSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	s.SetMessages("old", []Message{{ID: "1"}, {ID: "2"}}, SetOptions{Authoritative: true})
	s.AppendMessage("new", Message{ID: "x"})
	if _, err := s.BeginLoad("old"); err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	if err := s.MarkLoaded("old"); err != nil {
		t.Fatalf("MarkLoaded: %v", err)
	}

	before, _ := s.Info("new")
	st := s.Stats()
	if st != (CacheStats{ConversationCount: 2, TotalMessages: 3, LoadedCount: 1}) {
		t.Fatalf("stats=%+v", st)
	}
	after, _ := s.Info("new")
	if !before.LastAccessedAt.Equal(after.LastAccessedAt) {
		t.Fatalf("Stats touched entries")
	}

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].ID != "old" {
		t.Fatalf("snapshot order=%v", snap)
	}
	if snap[1].UnreadCount != 1 {
		t.Fatalf("unread=%d want=1", snap[1].UnreadCount)
	}
}

func TestStore_ClearBumpsGeneration(t *testing.T) {
	t.Parallel()

	s := newTestStore(false)
	s.AppendMessage("c1", Message{ID: "1"})
	if _, err := s.BeginLoad("c2"); err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	if err := s.SetChannel("c2", &fakeChannel{id: "c2"}); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}

	gen := s.Generation()
	chans := s.clear()
	if len(chans) != 1 || chans[0].ID() != "c2" {
		t.Fatalf("channels=%v", chans)
	}
	if s.Generation() == gen {
		t.Fatalf("generation unchanged")
	}
	if s.Len() != 0 {
		t.Fatalf("len=%d want=0", s.Len())
	}
}
