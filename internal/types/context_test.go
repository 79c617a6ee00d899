package types

import (
	"context"
	"testing"
)

type mockLogger struct {
	messages []string
}

func (m *mockLogger) Info(msg string, args ...any)  { m.messages = append(m.messages, "info:"+msg) }
func (m *mockLogger) Error(msg string, args ...any) { m.messages = append(m.messages, "error:"+msg) }
func (m *mockLogger) Warn(msg string, args ...any)  { m.messages = append(m.messages, "warn:"+msg) }
func (m *mockLogger) With(args ...any) Logger       { return m }

func TestWithActor_GetActor(t *testing.T) {
	actor := Actor{ID: "admin", Type: ActorTypeAdmin}
	got, ok := GetActor(WithActor(context.Background(), actor))
	if !ok {
		t.Fatal("expected actor in context")
	}
	if got != actor {
		t.Errorf("GetActor() = %+v, want %+v", got, actor)
	}

	if _, ok := GetActor(context.Background()); ok {
		t.Error("empty context should not contain an actor")
	}
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-1")
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q", got)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatal("expected nil logger on empty context")
	}

	l := &mockLogger{}
	got := LoggerFromContext(WithLogger(context.Background(), l))
	if got == nil {
		t.Fatal("expected logger")
	}
	got.Info("hello")
	if len(l.messages) != 1 || l.messages[0] != "info:hello" {
		t.Errorf("messages = %v", l.messages)
	}
}
