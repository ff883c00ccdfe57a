package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/app"
	"github.com/Alexmontesino96/Admin-Gym-Dashboard-sub001/cmd/internal/chatcache"
)

var tailFlags struct {
	markRead bool
}

func init() {
	tailCmd.Flags().BoolVar(&tailFlags.markRead, "mark-read", true, "mark history read after it is printed")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail <room>",
	Short: "Open a room, print its history and follow new messages",
	Long: "Open a room through the cache, print the cached history and every pushed message.\n" +
		"Lines read from stdin are sent to the room. /refresh, /stats and /quit are commands.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		sess, err := app.OpenSession(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Close() }()

		room, err := sess.Directory.Lookup(ctx, strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}

		t := &tailer{out: cmd.OutOrStdout(), cache: sess.Cache, room: room.ID}
		stop := sess.Cache.Observe(t.onChange)
		defer stop()

		if _, err := sess.Cache.Activate(ctx, room.ID, room.Descriptor()); err != nil {
			return fmt.Errorf("open %s: %w", room.ID, err)
		}
		t.printHistory(valueOr(room.Title, room.ID))
		if tailFlags.markRead {
			sess.Cache.MarkRead(room.ID)
		}

		return t.readLoop(ctx, cmd.InOrStdin())
	},
}

// tailer prints one room. Observer callbacks and the stdin loop share out through mu.
type tailer struct {
	out   io.Writer
	cache *chatcache.Service
	room  string

	mu     sync.Mutex
	primed bool
}

func (t *tailer) printHistory(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msgs := t.cache.Messages(t.room)
	fmt.Fprintf(t.out, "== %s (%d messages) ==\n", sanitize(title), len(msgs))
	for _, m := range msgs {
		fmt.Fprintln(t.out, formatMessage(m))
	}
	t.primed = true
}

func (t *tailer) onChange(c chatcache.Change) {
	if c.ConversationID != t.room && c.Kind != chatcache.ChangeCleared {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.primed {
		return
	}
	switch c.Kind {
	case chatcache.ChangeAppend:
		if c.Message != nil {
			fmt.Fprintln(t.out, formatMessage(*c.Message))
		}
	case chatcache.ChangeRemoved:
		fmt.Fprintln(t.out, "-- room evicted from cache --")
	case chatcache.ChangeCleared:
		fmt.Fprintln(t.out, "-- session cleared --")
	}
}

func (t *tailer) readLoop(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := t.handleLine(ctx, line); quit {
				return nil
			}
		}
	}
}

func (t *tailer) handleLine(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/quit":
		return true
	case "/stats":
		st := t.cache.Stats()
		t.printf("-- %d conversations, %d messages, %d loaded, %d listeners --\n",
			st.ConversationCount, st.TotalMessages, st.LoadedCount, t.cache.ListenerCount())
		return false
	case "/refresh":
		if _, err := t.cache.Refresh(ctx, t.room); err != nil {
			t.printf("! refresh failed: %v\n", err)
		}
		return false
	}

	err := t.cache.SendMessage(ctx, t.room, line)
	var se *chatcache.SendError
	switch {
	case err == nil:
	case errors.As(err, &se):
		t.printf("! not delivered (%v), kept locally as %s\n", se.Err, se.Fallback.ID)
	default:
		t.printf("! send failed: %v\n", err)
	}
	return false
}

func (t *tailer) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// formatMessage renders "[15:04] name: text", marking own messages and unread ones.
func formatMessage(m chatcache.Message) string {
	name := sanitize(m.SenderName)
	if m.IsOwn {
		name = "you"
	}
	var flag string
	if !m.IsRead {
		flag = " *"
	}
	ts := "--:--"
	if !m.SentAt.IsZero() {
		ts = m.SentAt.Local().Format("15:04")
	}
	return fmt.Sprintf("[%s] %s: %s%s", ts, valueOr(name, "?"), sanitize(m.Text), flag)
}

// sanitize drops control characters (terminal escapes included) from remote text.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func valueOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
