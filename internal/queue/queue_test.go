package queue

import (
	"context"
	"testing"

	"github.com/kursadbilgin/authbatch/internal/domain"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 3 {
		t.Fatalf("WorkQueueNames len = %d, want 3", len(work))
	}

	expected := map[string]struct{}{
		"bulk.password_reset": {},
		"bulk.user_import":    {},
		"bulk.user_delete":    {},
	}

	for _, name := range work {
		if _, ok := expected[name]; !ok {
			t.Fatalf("unexpected queue name: %s", name)
		}
	}

	dlq := DLQNames()
	if len(dlq) != 3 {
		t.Fatalf("DLQNames len = %d, want 3", len(dlq))
	}

	for _, name := range dlq {
		if _, ok := expected[name[len("dlq."):]]; !ok {
			t.Fatalf("unexpected dlq name: %s", name)
		}
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName(domain.OperationPasswordReset); got != "bulk.password_reset" {
		t.Fatalf("QueueName = %s, want bulk.password_reset", got)
	}

	if got := DLQName(domain.OperationUserDelete); got != "dlq.bulk.user_delete" {
		t.Fatalf("DLQName = %s, want dlq.bulk.user_delete", got)
	}
}

func TestChunkMessageValidate(t *testing.T) {
	valid := func() ChunkMessage {
		return ChunkMessage{
			TaskID:     "t1",
			BatchID:    "b1",
			ProjectID:  "test2-9f700",
			Operation:  domain.OperationPasswordReset,
			ChunkIndex: 0,
			Attempt:    1,
			Items:      []domain.WorkItem{{Email: "ada@example.com"}},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(m *ChunkMessage)
	}{
		{name: "empty task id", mutate: func(m *ChunkMessage) { m.TaskID = "" }},
		{name: "empty batch id", mutate: func(m *ChunkMessage) { m.BatchID = " " }},
		{name: "empty project id", mutate: func(m *ChunkMessage) { m.ProjectID = "" }},
		{name: "invalid operation", mutate: func(m *ChunkMessage) { m.Operation = domain.Operation("disable") }},
		{name: "negative chunk index", mutate: func(m *ChunkMessage) { m.ChunkIndex = -1 }},
		{name: "zero attempt", mutate: func(m *ChunkMessage) { m.Attempt = 0 }},
		{name: "no items", mutate: func(m *ChunkMessage) { m.Items = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid()
			tt.mutate(&msg)
			if err := msg.Validate(); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestChunkMessageNextAttempt(t *testing.T) {
	msg := ChunkMessage{TaskID: "t1", Attempt: 1, Items: []domain.WorkItem{{UID: "u1"}}}

	next := msg.NextAttempt()
	if next.Attempt != 2 {
		t.Fatalf("NextAttempt().Attempt = %d, want 2", next.Attempt)
	}
	if msg.Attempt != 1 {
		t.Fatalf("original attempt mutated to %d", msg.Attempt)
	}
	if next.TaskID != msg.TaskID || len(next.Items) != 1 {
		t.Fatalf("NextAttempt() lost task identity: %+v", next)
	}
}

func TestTopologyDeadLettersEveryWorkQueue(t *testing.T) {
	decls := topology()
	if len(decls) != 2*len(supportedOperations) {
		t.Fatalf("topology len = %d, want %d", len(decls), 2*len(supportedOperations))
	}

	byName := make(map[string]queueDecl, len(decls))
	for _, q := range decls {
		byName[q.name] = q
	}

	for _, op := range supportedOperations {
		work, ok := byName[QueueName(op)]
		if !ok {
			t.Fatalf("missing work queue for %s", op)
		}
		if work.args["x-queue-type"] != "quorum" {
			t.Fatalf("%s x-queue-type = %v, want quorum", work.name, work.args["x-queue-type"])
		}
		if work.args["x-delivery-limit"] != int32(taskDeliveryLimit) {
			t.Fatalf("%s x-delivery-limit = %v, want %d", work.name, work.args["x-delivery-limit"], taskDeliveryLimit)
		}
		key := work.args["x-dead-letter-routing-key"]

		dlq, ok := byName[DLQName(op)]
		if !ok {
			t.Fatalf("missing dlq for %s", op)
		}
		if dlq.bindKey != key {
			t.Fatalf("%s bound with %q, work queue dead-letters with %v", dlq.name, dlq.bindKey, key)
		}
	}
}

func TestPingWithoutConnection(t *testing.T) {
	if err := (&RabbitMQ{}).Ping(context.Background()); err == nil {
		t.Fatal("Ping() expected error without a connection")
	}
}
