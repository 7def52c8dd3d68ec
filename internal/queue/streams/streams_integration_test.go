package streams

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/quizrunner/internal/orchestrator"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestJobQueueRoundTrip(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	const stream, group = "quiz.jobs", "workers"

	secrets := NewSecretStore(client, time.Minute)
	queue := NewJobQueue(NewPublisher(client), secrets, stream, 100)
	job, err := queue.Enqueue(ctx, Job{Email: "a@b.c", Secret: "s3cret", URL: "https://quiz.example/task1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.RunID == "" {
		t.Fatalf("expected a run id to be assigned")
	}
	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	if err != nil || len(entries) != 1 {
		t.Fatalf("xrange: %v %v", entries, err)
	}
	if raw := fmt.Sprint(entries[0].Values); strings.Contains(raw, "s3cret") {
		t.Fatalf("secret written to the stream: %s", raw)
	}
	if got, err := secrets.Get(ctx, job.RunID); err != nil || got != "s3cret" {
		t.Fatalf("secret store: %q %v", got, err)
	}
	if ttl := client.TTL(ctx, "quiz:job-secret:"+job.RunID).Val(); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("secret must expire, ttl %s", ttl)
	}
	// Poison entry: acked and dropped by the consumer.
	if err := client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: map[string]interface{}{"junk": "1"}}).Err(); err != nil {
		t.Fatalf("xadd junk: %v", err)
	}

	if err := EnsureGroup(ctx, client, stream, group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := EnsureGroup(ctx, client, stream, group); err != nil {
		t.Fatalf("ensure group twice: %v", err)
	}

	consumer := NewConsumer(client, group, "w1", log.New(log.Writer(), "[TEST] ", 0))
	msgs, err := consumer.Read(ctx, stream, WithBlock(time.Second), WithCount(10))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 decodable message, got %d", len(msgs))
	}
	var got Job
	if err := msgs[0].Envelope.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != job.RunID || got.URL != job.URL {
		t.Fatalf("unexpected job: %+v", got)
	}

	lag, err := consumer.LagMetrics(ctx, stream)
	if err != nil {
		t.Fatalf("lag: %v", err)
	}
	if lag.Pending != 1 {
		t.Fatalf("expected 1 pending entry before ack, got %+v", lag)
	}

	// A second consumer can reclaim the unacked job.
	other := NewConsumer(client, group, "w2", nil)
	claimed, _, err := other.AutoClaim(ctx, stream, 0, "0", 10)
	if err != nil {
		t.Fatalf("autoclaim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != msgs[0].ID {
		t.Fatalf("expected to reclaim %s, got %+v", msgs[0].ID, claimed)
	}

	if err := other.Ack(ctx, stream, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	lag, err = other.LagMetrics(ctx, stream)
	if err != nil {
		t.Fatalf("lag: %v", err)
	}
	if lag.Pending != 0 {
		t.Fatalf("expected no pending entries after ack, got %+v", lag)
	}
	if err := secrets.Delete(ctx, job.RunID); err != nil {
		t.Fatalf("delete secret: %v", err)
	}
	if _, err := secrets.Get(ctx, job.RunID); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound after delete, got %v", err)
	}
}

func TestJournalRecordsRun(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	const stream = "quiz.events"

	j := NewJournal(NewPublisher(client), stream, 0)
	if err := j.StartRun(ctx, "run-1", "https://quiz.example/task1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, st := range []orchestrator.State{orchestrator.Fetching, orchestrator.Classifying, orchestrator.Inferring} {
		if err := j.Record(ctx, orchestrator.Transition{RunID: "run-1", TaskIndex: 1, State: st, URL: "https://quiz.example/task1", At: time.Now()}); err != nil {
			t.Fatalf("record %s: %v", st, err)
		}
	}
	if err := j.FinishRun(ctx, orchestrator.Result{RunID: "run-1", State: orchestrator.Done, TasksCompleted: 1}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 journal entries, got %d", len(entries))
	}
	var types []string
	for _, e := range entries {
		env, err := envelopeFromValues(e.Values)
		if err != nil {
			t.Fatalf("entry %s: %v", e.ID, err)
		}
		if env.RunID != "run-1" {
			t.Fatalf("entry %s has run id %q", e.ID, env.RunID)
		}
		types = append(types, env.EventType)
	}
	want := []string{EventRunStarted, EventTransition, EventTransition, EventTransition, EventRunFinished}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: expected %s got %s", i, want[i], types[i])
		}
	}

	var last orchestrator.Result
	env, _ := envelopeFromValues(entries[4].Values)
	if err := env.Decode(&last); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if last.State != orchestrator.Done || last.TasksCompleted != 1 {
		t.Fatalf("unexpected result payload: %+v", last)
	}
}

func TestGroupLag(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	const stream, group = "quiz.lag", "workers"

	lag, err := GroupLag(ctx, client, stream, group)
	if err != nil || lag != (LagMetrics{}) {
		t.Fatalf("missing stream: %+v %v", lag, err)
	}

	queue := NewJobQueue(NewPublisher(client), NewSecretStore(client, 0), stream, 0)
	for i := 0; i < 2; i++ {
		if _, err := queue.Enqueue(ctx, Job{Email: "a@b.c", Secret: "s", URL: "https://quiz.example/t"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	lag, err = GroupLag(ctx, client, stream, group)
	if err != nil || lag.Lag != -1 {
		t.Fatalf("missing group: %+v %v", lag, err)
	}

	if err := EnsureGroup(ctx, client, stream, group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	consumer := NewConsumer(client, group, "c1", log.Default())
	if _, err := consumer.Read(ctx, stream, WithCount(1), WithBlock(time.Second)); err != nil {
		t.Fatalf("read: %v", err)
	}
	lag, err = GroupLag(ctx, client, stream, group)
	if err != nil {
		t.Fatalf("group lag: %v", err)
	}
	if lag.Pending != 1 || lag.Lag != 1 || lag.Consumers != 1 {
		t.Fatalf("unexpected lag %s", lag)
	}
}
