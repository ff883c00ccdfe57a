package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"go.uber.org/goleak"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
	v1 "github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/contracts/realtime/v1"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustService(t *testing.T, h *Hub, opts ...chatcache.Option) *chatcache.Service {
	t.Helper()

	base := []chatcache.Option{
		chatcache.WithLogger(testLogger()),
		chatcache.WithDecoder(chatcache.V1Decoder{IsSelf: h.OwnsSession}),
	}
	svc, err := chatcache.New(h, append(base, opts...)...)
	if err != nil {
		t.Fatalf("chatcache.New: %v", err)
	}
	t.Cleanup(svc.Clear)
	return svc
}

func room(id string) chatcache.Descriptor {
	return chatcache.Descriptor{ChannelType: "messaging", ChannelID: id}
}

func TestHub_QueryReturnsNewestAscending(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	for _, text := range []string{"one", "two", "three"} {
		if _, err := h.Publish("r1", "member-1", "Ana", text); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	ch, err := h.Subscribe(context.Background(), room("r1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	raws, err := ch.Query(context.Background(), chatcache.Query{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("len=%d want=2", len(raws))
	}

	var first, second v1.MessageNewPayload
	_ = json.Unmarshal(raws[0], &first)
	_ = json.Unmarshal(raws[1], &second)
	if first.Text != "two" || second.Text != "three" || first.Seq >= second.Seq {
		t.Fatalf("got %q(%d), %q(%d)", first.Text, first.Seq, second.Text, second.Seq)
	}
	if h.Queries() != 1 || h.Subscribes() != 1 {
		t.Fatalf("queries=%d subscribes=%d", h.Queries(), h.Subscribes())
	}
}

func TestHub_ReleaseStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	ch, err := h.Subscribe(context.Background(), room("r1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	got := 0
	ch.On(chatcache.EventMessageNew, func(json.RawMessage) { got++ })

	if _, err := h.Publish("r1", "m", "", "hi"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := h.Release(ch); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := h.Publish("r1", "m", "", "again"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got != 1 {
		t.Fatalf("deliveries=%d want=1", got)
	}
	if h.Members("r1") != 0 {
		t.Fatalf("members=%d want=0", h.Members("r1"))
	}
	if _, err := ch.Query(context.Background(), chatcache.Query{Limit: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Query after release: %v", err)
	}
	if err := ch.Send(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after release: %v", err)
	}
}

func TestHub_PublishValidation(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	if _, err := h.Publish("", "m", "", "x"); err == nil {
		t.Fatalf("empty conversation accepted")
	}
	if _, err := h.Publish("r1", "m", "", "   "); err == nil {
		t.Fatalf("blank text accepted")
	}
}

func TestCache_PushAndEcho(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	if _, err := h.Publish("r1", "member-1", "Ana", "can I move my session?"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	svc := mustService(t, h)

	if _, err := svc.Activate(context.Background(), "r1", room("r1")); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := h.Publish("r1", "member-1", "Ana", "thursday works"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "r1", "thursday 7pm then"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs := svc.Messages("r1")
	if len(msgs) != 3 {
		t.Fatalf("len=%d want=3", len(msgs))
	}
	if msgs[0].SenderName != "Ana" || msgs[0].IsOwn {
		t.Fatalf("first=%+v", msgs[0])
	}
	if !msgs[2].IsOwn || !msgs[2].IsRead {
		t.Fatalf("echo=%+v", msgs[2])
	}
	if info, _ := svc.Info("r1"); info.UnreadCount != 2 {
		t.Fatalf("unread=%d want=2", info.UnreadCount)
	}
}

func TestCache_RevisitMakesNoTransportCalls(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	svc := mustService(t, h)

	for _, id := range []string{"r1", "r2", "r1", "r2", "r1"} {
		if _, err := svc.Activate(context.Background(), id, room(id)); err != nil {
			t.Fatalf("Activate(%s): %v", id, err)
		}
	}
	if h.Subscribes() != 2 || h.Queries() != 2 {
		t.Fatalf("subscribes=%d queries=%d want=2/2", h.Subscribes(), h.Queries())
	}
}

func TestCache_EvictionReleasesChannel(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	svc := mustService(t, h, chatcache.WithCapacity(1))

	if _, err := svc.Activate(context.Background(), "r1", room("r1")); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := svc.Activate(context.Background(), "r2", room("r2")); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if h.Members("r1") != 0 || h.Releases() != 1 {
		t.Fatalf("r1 members=%d releases=%d", h.Members("r1"), h.Releases())
	}
	if _, err := h.Publish("r1", "m", "", "while away"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if svc.Stats().ConversationCount != 1 {
		t.Fatalf("stats=%+v", svc.Stats())
	}
}

func TestCache_OwnHistorySurvivesResubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(testLogger())
	svc := mustService(t, h, chatcache.WithCapacity(1))

	for i := 0; i < 3; i++ {
		for _, id := range []string{"r1", "r2"} {
			if _, err := svc.Activate(context.Background(), id, room(id)); err != nil {
				t.Fatalf("Activate(%s): %v", id, err)
			}
			if err := svc.SendMessage(context.Background(), id, "round "+id); err != nil {
				t.Fatalf("SendMessage(%s): %v", id, err)
			}
		}
	}
	if h.Subscribes() != 6 || h.Releases() != 5 {
		t.Fatalf("subscribes=%d releases=%d want=6/5", h.Subscribes(), h.Releases())
	}

	if _, err := svc.Activate(context.Background(), "r1", room("r1")); err != nil {
		t.Fatalf("Activate(r1): %v", err)
	}
	msgs := svc.Messages("r1")
	if len(msgs) != 3 {
		t.Fatalf("len=%d want=3", len(msgs))
	}
	for _, m := range msgs {
		if !m.IsOwn || m.SenderName != h.Self() {
			t.Fatalf("refetched message not own: %+v", m)
		}
	}
}
