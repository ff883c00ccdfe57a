package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/contracts/realtime/v1"
)

// testServer is a minimal realtime v1 server: one joined conversation per connection,
// history paged by after_seq, sends acked and broadcast to every joined connection.
type testServer struct {
	t   *testing.T
	srv *httptest.Server

	subprotocol string
	failSends   bool

	mu      sync.Mutex
	history map[string][]v1.MessageNewPayload
	conns   map[*websocket.Conn]string
	nextID  int
	origins []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s := &testServer{
		t:           t,
		subprotocol: v1.Subprotocol,
		history:     make(map[string][]v1.MessageNewPayload),
		conns:       make(map[*websocket.Conn]string),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *testServer) seed(convID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.appendLocked(convID, "seed", fmt.Sprintf("seed %d", i+1), "")
	}
}

func (s *testServer) appendLocked(convID, sender, text, clientMsgID string) v1.MessageNewPayload {
	s.nextID++
	msgs := s.history[convID]
	m := v1.MessageNewPayload{
		ConversationID: convID,
		ClientMsgID:    clientMsgID,
		ServerMsgID:    fmt.Sprintf("srv-%03d", s.nextID),
		Seq:            int64(len(msgs) + 1),
		Sender:         sender,
		Text:           text,
		ServerTS:       time.Date(2026, 5, 1, 8, 0, s.nextID, 0, time.UTC),
	}
	s.history[convID] = append(msgs, m)
	return m
}

func (s *testServer) seenOrigin() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.origins...)
}

func (s *testServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.origins = append(s.origins, r.Header.Get("Origin"))
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{s.subprotocol},
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx := r.Context()
	session := fmt.Sprintf("sess-%p", conn)
	joined := ""

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return
		}

		switch env.Type {
		case v1.TypeHello:
			s.write(ctx, conn, v1.TypeHelloAck, v1.HelloAckPayload{SessionID: session})

		case v1.TypeConversationJoin:
			var p v1.ConversationJoinPayload
			_ = json.Unmarshal(env.Payload, &p)
			if p.ConversationID == "forbidden" {
				s.write(ctx, conn, v1.TypeError, v1.ErrorPayload{Code: v1.CodeJoinFailed, Message: "not a member"})
				continue
			}
			joined = p.ConversationID
			s.mu.Lock()
			s.conns[conn] = joined
			s.mu.Unlock()
			s.write(ctx, conn, v1.TypeConversationJoin, p)

		case v1.TypeConversationHistoryFetch:
			var p v1.ConversationHistoryFetchPayload
			_ = json.Unmarshal(env.Payload, &p)
			s.write(ctx, conn, v1.TypeConversationHistoryChunk, s.page(p))

		case v1.TypeMessageSend:
			var p v1.MessageSendPayload
			_ = json.Unmarshal(env.Payload, &p)
			if s.failSends {
				s.write(ctx, conn, v1.TypeError, v1.ErrorPayload{Code: v1.CodeSendFailed, Message: "store append failed"})
				continue
			}

			s.mu.Lock()
			m := s.appendLocked(joined, session, p.Text, p.ClientMsgID)
			var peers []*websocket.Conn
			for c, conv := range s.conns {
				if conv == joined {
					peers = append(peers, c)
				}
			}
			s.mu.Unlock()

			s.write(ctx, conn, v1.TypeMessageAck, v1.MessageAckPayload{
				ConversationID: m.ConversationID,
				ClientMsgID:    m.ClientMsgID,
				ServerMsgID:    m.ServerMsgID,
				Seq:            m.Seq,
			})
			for _, c := range peers {
				s.write(ctx, c, v1.TypeMessageNew, m)
			}
		}
	}
}

func (s *testServer) page(p v1.ConversationHistoryFetchPayload) v1.ConversationHistoryChunkPayload {
	s.mu.Lock()
	all := append([]v1.MessageNewPayload(nil), s.history[p.ConversationID]...)
	s.mu.Unlock()

	start := 0
	if p.AfterSeq != nil {
		for start < len(all) && all[start].Seq <= *p.AfterSeq {
			start++
		}
	}
	end := start + p.Limit
	hasMore := end < len(all)
	if end > len(all) {
		end = len(all)
	}
	return v1.ConversationHistoryChunkPayload{
		ConversationID: p.ConversationID,
		Messages:       all[start:end],
		HasMore:        hasMore,
	}
}

func (s *testServer) write(ctx context.Context, conn *websocket.Conn, typ string, payload any) {
	env, err := v1.NewEnvelope(typ, "", payload, time.Now().UTC())
	if err != nil {
		s.t.Errorf("NewEnvelope: %v", err)
		return
	}
	b, _ := json.Marshal(env)
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, b)
}
