package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerdos/kerdos-api/config"
	"github.com/kerdos/kerdos-api/internal/domain/model"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx context.Context

	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

func (s *fakeSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

type recordingHandler struct {
	mu      sync.Mutex
	batches [][]model.LessonCompletion
	err     error
}

func (h *recordingHandler) ApplyBatch(_ context.Context, batch []model.LessonCompletion) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.batches = append(h.batches, append([]model.LessonCompletion(nil), batch...))
	return nil
}

func completionMessage(t *testing.T, offset int64, lessonID string) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(model.LessonCompletion{
		UserID:      "user-1",
		LessonID:    lessonID,
		ModuleID:    "1",
		XP:          10,
		CompletedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Offset: offset, Value: data}
}

func newTestHandler(h CompletionHandler, batchSize int) *consumerGroupHandler {
	return &consumerGroupHandler{
		config:  config.KafkaConfig{BatchSize: batchSize, BatchTimeout: time.Hour},
		handler: h,
		logger:  slog.Default(),
		ready:   make(chan bool),
	}
}

func TestConsumeClaim_BatchesAndMarksAfterApply(t *testing.T) {
	rec := &recordingHandler{}
	h := newTestHandler(rec, 2)

	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 4)}
	claim.msgs <- completionMessage(t, 1, "1-1")
	claim.msgs <- &sarama.ConsumerMessage{Offset: 2, Value: []byte("not json")}
	claim.msgs <- completionMessage(t, 3, "1-2")
	claim.msgs <- completionMessage(t, 4, "1-3")
	close(claim.msgs)

	require.NoError(t, h.ConsumeClaim(session, claim))

	require.Len(t, rec.batches, 2)
	assert.Len(t, rec.batches[0], 2)
	assert.Equal(t, "1-3", rec.batches[1][0].LessonID)
	assert.Equal(t, []int64{3, 4}, session.markedOffsets())
}

func TestConsumeClaim_FailedBatchIsNotMarked(t *testing.T) {
	rec := &recordingHandler{err: errors.New("db down")}
	h := newTestHandler(rec, 1)

	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 1)}
	claim.msgs <- completionMessage(t, 7, "1-1")

	err := h.ConsumeClaim(session, claim)
	require.Error(t, err)
	assert.Empty(t, session.markedOffsets())
}

func TestConsumeClaim_InvalidCompletionSkipped(t *testing.T) {
	rec := &recordingHandler{}
	h := newTestHandler(rec, 10)

	data, err := json.Marshal(model.LessonCompletion{UserID: "user-1"})
	require.NoError(t, err)

	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 1)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 5, Value: data}
	close(claim.msgs)

	require.NoError(t, h.ConsumeClaim(session, claim))
	assert.Empty(t, rec.batches)
	assert.Equal(t, []int64{5}, session.markedOffsets())
}

func TestSetup_ClosesReadyOnce(t *testing.T) {
	h := newTestHandler(&recordingHandler{}, 1)
	require.NoError(t, h.Setup(nil))
	require.NoError(t, h.Setup(nil))

	select {
	case <-h.ready:
	default:
		t.Fatal("ready not closed")
	}
}

func TestProducer_PublishKeysByUser(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "user-1" {
			return errors.New("unexpected key " + string(key))
		}
		if msg.Topic != "kerdos.lesson-completed" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		return nil
	})

	p := NewProducerFrom(sp, "kerdos.lesson-completed")
	_, _, err := p.Publish(model.LessonCompletion{
		UserID: "user-1", LessonID: "1-1", ModuleID: "1", XP: 10, CompletedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestProducer_RejectsInvalid(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(sp, "topic")
	_, _, err := p.Publish(model.LessonCompletion{})
	require.Error(t, err)
	require.NoError(t, p.Close())
}
