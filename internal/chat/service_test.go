package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type mockGenerator struct {
	generateFn func(ctx context.Context, prompt string) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return m.generateFn(ctx, prompt)
}

type mockArchiver struct {
	exchanges [][3]string
	archiveFn func(threadKey, userText, assistantText string) error
}

func (m *mockArchiver) ArchiveExchange(threadKey, userText, assistantText string) error {
	if m.archiveFn != nil {
		return m.archiveFn(threadKey, userText, assistantText)
	}
	m.exchanges = append(m.exchanges, [3]string{threadKey, userText, assistantText})
	return nil
}

func newTestService(gen Generator, archive Archiver) (*Service, *ThreadStore) {
	threads := NewThreadStore(0, nil)
	svc := NewService(threads, NewBuilder(nil), NewRouter(), KeywordTopicClassifier{}, gen, archive, time.Second)
	return svc, threads
}

func TestHandlePrefersGenerator(t *testing.T) {
	gen := &mockGenerator{
		generateFn: func(context.Context, string) (string, error) {
			return "generated answer", nil
		},
	}
	svc, threads := newTestService(gen, nil)

	reply, err := svc.Handle(context.Background(), "zone:z1", BuildInput{ZoneID: "z1", UserMessage: "what crops grow here?"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply != "generated answer" {
		t.Errorf("reply = %q, want the generated answer", reply)
	}
	if got := threads.Len("zone:z1"); got != 2 {
		t.Errorf("thread len = %d, want 2 (user + assistant)", got)
	}
}

func TestHandleFallsBackOnGeneratorError(t *testing.T) {
	gen := &mockGenerator{
		generateFn: func(context.Context, string) (string, error) {
			return "", errors.New("model overloaded")
		},
	}
	svc, threads := newTestService(gen, nil)

	reply, err := svc.Handle(context.Background(), "zone:z1", BuildInput{ZoneID: "z1", UserMessage: "how is my soil ph?"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply == "" {
		t.Fatal("fallback reply must never be empty")
	}
	if strings.Contains(reply, "overloaded") {
		t.Errorf("collaborator error leaked to the user: %q", reply)
	}
	if got := threads.Len("zone:z1"); got != 2 {
		t.Errorf("thread len = %d, want 2", got)
	}
}

func TestHandleWithoutGenerator(t *testing.T) {
	svc, _ := newTestService(nil, nil)

	reply, err := svc.Handle(context.Background(), "zone:z1", BuildInput{ZoneID: "z1", UserMessage: "sensor status please"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply == "" {
		t.Fatal("router reply must never be empty")
	}
}

func TestHandleCancellationAppendsNothing(t *testing.T) {
	gen := &mockGenerator{
		generateFn: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	svc, threads := newTestService(gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Handle(ctx, "zone:z1", BuildInput{ZoneID: "z1", UserMessage: "what crops grow here?"})
	if err == nil {
		t.Fatal("cancelled request should surface an error")
	}
	if got := threads.Len("zone:z1"); got != 0 {
		t.Errorf("cancelled request appended %d messages, want 0", got)
	}
}

func TestHandleRedirectsOffTopic(t *testing.T) {
	gen := &mockGenerator{
		generateFn: func(context.Context, string) (string, error) {
			t.Error("generator must not run for off-topic messages")
			return "", nil
		},
	}
	svc, _ := newTestService(gen, nil)

	reply, err := svc.Handle(context.Background(), "zone:z1", BuildInput{ZoneID: "z1", UserMessage: "who won the election"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply != RedirectReply() {
		t.Errorf("reply = %q, want the redirect", reply)
	}
}

func TestHandleFramesFollowUps(t *testing.T) {
	svc, threads := newTestService(nil, nil)
	threads.Append("zone:z1", RoleUser, "what should I plant?")
	threads.Append("zone:z1", RoleAssistant, "rice")

	reply, err := svc.Handle(context.Background(), "zone:z1", BuildInput{ZoneID: "z1", UserMessage: "tell me more about it"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.HasPrefix(reply, "Following up on that: ") {
		t.Errorf("follow-up reply not framed: %q", reply)
	}

	clarify, err := svc.Handle(context.Background(), "zone:z1", BuildInput{ZoneID: "z1", UserMessage: "please explain the soil grade"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.HasPrefix(clarify, "To clarify: ") {
		t.Errorf("clarification reply not framed: %q", clarify)
	}
}

func TestHandleArchivesExchange(t *testing.T) {
	archive := &mockArchiver{}
	svc, _ := newTestService(nil, archive)

	if _, err := svc.Handle(context.Background(), "zone:z1", BuildInput{ZoneID: "z1", UserMessage: "soil status"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(archive.exchanges) != 1 {
		t.Fatalf("archived %d exchanges, want 1", len(archive.exchanges))
	}
	if archive.exchanges[0][0] != "zone:z1" || archive.exchanges[0][1] != "soil status" {
		t.Errorf("archived exchange wrong: %+v", archive.exchanges[0])
	}
}

func TestHandleSurvivesArchiveFailure(t *testing.T) {
	archive := &mockArchiver{
		archiveFn: func(string, string, string) error {
			return errors.New("disk full")
		},
	}
	svc, threads := newTestService(nil, archive)

	reply, err := svc.Handle(context.Background(), "zone:z1", BuildInput{ZoneID: "z1", UserMessage: "soil status"})
	if err != nil {
		t.Fatalf("archive failure must not fail the request: %v", err)
	}
	if reply == "" {
		t.Fatal("reply missing")
	}
	if got := threads.Len("zone:z1"); got != 2 {
		t.Errorf("thread len = %d, want 2", got)
	}
}

func TestZoneAndRecommendationKeys(t *testing.T) {
	if got := ZoneKey("z1"); got != "zone:z1" {
		t.Errorf("ZoneKey = %q", got)
	}
	if got := RecommendationKey("r1", "u1"); got != "rec:r1:user:u1" {
		t.Errorf("RecommendationKey = %q", got)
	}
}
