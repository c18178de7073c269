package worker

import (
	"context"
	"image"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocrdeploy/pkg/types"
)

// blockingRecognizer holds OCR calls until release is closed.
type blockingRecognizer struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRecognizer) Recognize(ctx context.Context, prompt, imageURL string) (string, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *blockingRecognizer) Ready(context.Context) bool { return true }

func waitStatus(t *testing.T, q *Queue, id, status string) types.JobResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res, err := q.Get(id)
		require.NoError(t, err)
		if res.Status == status {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %s", id, status)
	return types.JobResult{}
}

func TestQueue_SubmitAndComplete(t *testing.T) {
	q := NewQueue(newHandler(t), QueueOptions{Workers: 2}, zerolog.Nop())
	t.Cleanup(func() { _ = q.Close(context.Background()) })

	res, err := q.Submit(types.JobRequest{Input: types.JobInput{Prompt: ptr("p")}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, types.JobInQueue, res.Status)

	done := waitStatus(t, q, res.ID, types.JobCompleted)
	assert.Equal(t, "Echo test: p", done.Output)
	assert.GreaterOrEqual(t, done.DelayTime, int64(0))
	assert.Equal(t, 1, q.Stats().Completed)
}

func TestQueue_FullAndInProgress(t *testing.T) {
	rec := &blockingRecognizer{started: make(chan struct{}, 4), release: make(chan struct{})}
	h := newHandler(t, WithRecognizer(rec, true))
	q := NewQueue(h, QueueOptions{Workers: 1, Depth: 1}, zerolog.Nop())
	t.Cleanup(func() { _ = q.Close(context.Background()) })

	img := encodePNG(t, image.NewGray(image.Rect(0, 0, 1, 1)))
	first, err := q.Submit(types.JobRequest{ID: "a", Input: types.JobInput{Image: ptr(img)}})
	require.NoError(t, err)
	<-rec.started
	waitStatus(t, q, first.ID, types.JobInProgress)

	_, err = q.Submit(types.JobRequest{ID: "b", Input: types.JobInput{Image: ptr(img)}})
	require.NoError(t, err)
	_, err = q.Submit(types.JobRequest{ID: "c", Input: types.JobInput{Image: ptr(img)}})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.True(t, IsQueueFull(err))

	st := q.Stats()
	assert.Equal(t, 1, st.InProgress)
	assert.Equal(t, 1, st.Queued)

	close(rec.release)
	<-rec.started
	res := waitStatus(t, q, "b", types.JobCompleted)
	assert.Equal(t, "done", res.Output.(types.ImageInfo).Text)
}

func TestQueue_GetUnknownAndExpiry(t *testing.T) {
	q := NewQueue(newHandler(t), QueueOptions{TTL: 30 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(func() { _ = q.Close(context.Background()) })

	_, err := q.Get("missing")
	assert.True(t, IsJobNotFound(err))

	res, err := q.Submit(types.JobRequest{ID: "x", Input: types.JobInput{Prompt: ptr("p")}})
	require.NoError(t, err)
	waitStatus(t, q, res.ID, types.JobCompleted)

	time.Sleep(60 * time.Millisecond)
	_, err = q.Get("x")
	assert.True(t, IsJobNotFound(err))
	assert.Equal(t, 1, q.sweep())
	assert.Equal(t, QueueStats{}, q.Stats())
}

func TestQueue_DuplicateID(t *testing.T) {
	q := NewQueue(newHandler(t), QueueOptions{TTL: 200 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(func() { _ = q.Close(context.Background()) })

	_, err := q.Submit(types.JobRequest{ID: "same", Input: types.JobInput{Prompt: ptr("first")}})
	require.NoError(t, err)
	_, err = q.Submit(types.JobRequest{ID: "same", Input: types.JobInput{Prompt: ptr("second")}})
	require.Error(t, err)
	assert.True(t, IsJobConflict(err))
	assert.Equal(t, http.StatusConflict, err.(interface{ StatusCode() int }).StatusCode())

	res := waitStatus(t, q, "same", types.JobCompleted)
	assert.Equal(t, "Echo test: first", res.Output)

	// a finished id can be reused once it has expired
	time.Sleep(300 * time.Millisecond)
	_, err = q.Submit(types.JobRequest{ID: "same", Input: types.JobInput{Prompt: ptr("third")}})
	require.NoError(t, err)
	res = waitStatus(t, q, "same", types.JobCompleted)
	assert.Equal(t, "Echo test: third", res.Output)
}

func TestQueue_Close(t *testing.T) {
	rec := &blockingRecognizer{started: make(chan struct{}, 1), release: make(chan struct{})}
	q := NewQueue(newHandler(t, WithRecognizer(rec, true)), QueueOptions{}, zerolog.Nop())

	img := encodePNG(t, image.NewGray(image.Rect(0, 0, 1, 1)))
	_, err := q.Submit(types.JobRequest{ID: "slow", Input: types.JobInput{Image: ptr(img)}})
	require.NoError(t, err)
	<-rec.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)

	res, err := q.Get("slow")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, res.Status)
	assert.Contains(t, res.Error, "context canceled")

	_, err = q.Submit(types.JobRequest{Input: types.JobInput{Prompt: ptr("late")}})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, q.Close(context.Background()))
}
