package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/caseflow/intake-module/internal/domain/model"
	"github.com/bigkaa/caseflow/intake-module/internal/repository"
)

// fakeJobs — JobStore в памяти: ClaimNext отдаёт задачи в порядке постановки.
type fakeJobs struct {
	mu   sync.Mutex
	jobs []*model.WebhookJob
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{}
}

func (f *fakeJobs) Enqueue(_ context.Context, job *model.WebhookJob) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.JobID == job.JobID && j.Status != model.JobFailed {
			return false, nil
		}
	}
	cp := *job
	f.jobs = append(f.jobs, &cp)
	return true, nil
}

func (f *fakeJobs) ClaimNext(_ context.Context, now time.Time) (*model.WebhookJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		ready := j.Status == model.JobPending ||
			(j.Status == model.JobRetrying && j.NextRetryAt != nil && !j.NextRetryAt.After(now))
		if ready {
			j.Status = model.JobProcessing
			j.ProcessingStartedAt = &now
			cp := *j
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeJobs) find(id string) *model.WebhookJob {
	for _, j := range f.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (f *fakeJobs) MarkCompleted(_ context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.find(id)
	j.Status = model.JobCompleted
	j.CompletedAt = &now
	return nil
}

func (f *fakeJobs) MarkRetry(_ context.Context, id string, next time.Time, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.find(id)
	j.Status = model.JobRetrying
	j.RetryCount++
	j.NextRetryAt = &next
	j.ErrorDetails = errText
	return nil
}

func (f *fakeJobs) MarkFailed(_ context.Context, id string, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.find(id)
	j.Status = model.JobFailed
	j.ErrorDetails = errText
	return nil
}

func (f *fakeJobs) RequeueStuck(context.Context, time.Time) (int64, int64, error) { return 0, 0, nil }

func (f *fakeJobs) GetByJobID(_ context.Context, jobID string) (*model.WebhookJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if j.JobID == jobID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeJobs) ListByStatus(_ context.Context, status *string, limit int) ([]*model.WebhookJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.WebhookJob
	for _, j := range f.jobs {
		if status == nil || string(j.Status) == *status {
			cp := *j
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeProcessor возвращает ошибки из errs по очереди, затем успех.
type fakeProcessor struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeProcessor) ProcessBatch(_ context.Context, b *model.ResultBatch) (*IngestionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &IngestionResult{CaseID: b.ClientID, JobID: b.JobID}, nil
}

func newTestQueue(jobs *fakeJobs, proc *fakeProcessor, maxRetries int) *WebhookQueue {
	q := NewWebhookQueue(jobs, proc, time.Second, maxRetries, time.Second, 8*time.Second, testLogger())
	q.now = fixedNow
	return q
}

func jobPayload(jobID string) []byte {
	return fmt.Appendf(nil, `{"job_id":%q,"client_id":"AZ-100","status":"completed","results":[]}`, jobID)
}

func TestWebhookQueueEnqueue(t *testing.T) {
	jobs := newFakeJobs()
	q := newTestQueue(jobs, &fakeProcessor{}, 3)
	ctx := context.Background()

	res, err := q.Enqueue(ctx, jobPayload("job-1"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !res.Queued || res.Status != string(model.JobPending) || res.ClientID != "AZ-100" {
		t.Errorf("результат %+v", res)
	}

	res, err = q.Enqueue(ctx, jobPayload("job-1"))
	if err != nil {
		t.Fatalf("повторный Enqueue: %v", err)
	}
	if res.Queued {
		t.Error("повтор job_id поставлен в очередь")
	}

	res, err = q.Enqueue(ctx, []byte(`{"client_id":"AZ-100"}`))
	if err != nil {
		t.Fatalf("Enqueue без job_id: %v", err)
	}
	if res.JobID == "" {
		t.Error("job_id не сгенерирован")
	}

	for _, body := range []string{`{`, `{"job_id":"x","client_id":" "}`} {
		if _, err := q.Enqueue(ctx, []byte(body)); !errors.Is(err, ErrValidation) {
			t.Errorf("тело %s: %v, хотели ErrValidation", body, err)
		}
	}
}

func TestWebhookQueueDrain(t *testing.T) {
	tests := []struct {
		name       string
		errs       []error
		maxRetries int
		wantStatus model.WebhookJobStatus
		wantRetry  int
	}{
		{"успех", nil, 3, model.JobCompleted, 0},
		{"ошибка валидации", []error{fmt.Errorf("%w: пакет", ErrValidation)}, 3, model.JobFailed, 0},
		{"неизвестное дело", []error{fmt.Errorf("%w: дело", ErrNotFound)}, 3, model.JobFailed, 0},
		{"временная ошибка", []error{errors.New("timeout")}, 3, model.JobRetrying, 1},
		{"лимит повторов", []error{errors.New("timeout")}, 0, model.JobFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newFakeJobs()
			proc := &fakeProcessor{errs: tt.errs}
			q := newTestQueue(jobs, proc, tt.maxRetries)

			if _, err := q.Enqueue(context.Background(), jobPayload("job-1")); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
			if n := q.Drain(context.Background()); n != 1 {
				t.Fatalf("обработано %d задач, хотели 1", n)
			}

			got, err := q.GetJob(context.Background(), "job-1")
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if got.Status != tt.wantStatus || got.RetryCount != tt.wantRetry {
				t.Errorf("статус %q, retry_count %d; хотели %q, %d", got.Status, got.RetryCount, tt.wantStatus, tt.wantRetry)
			}
			if tt.wantStatus == model.JobRetrying {
				if want := testNow.Add(time.Second); !got.NextRetryAt.Equal(want) {
					t.Errorf("next_retry_at = %v, хотели %v", got.NextRetryAt, want)
				}
			}
		})
	}
}

func TestWebhookQueueRetryThenComplete(t *testing.T) {
	jobs := newFakeJobs()
	proc := &fakeProcessor{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	q := newTestQueue(jobs, proc, 3)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, jobPayload("job-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	for i := range 3 {
		q.Drain(ctx)
		q.now = func() time.Time { return testNow.Add(time.Duration(i+1) * time.Minute) }
	}

	got, _ := q.GetJob(ctx, "job-1")
	if got.Status != model.JobCompleted || got.RetryCount != 2 {
		t.Errorf("статус %q, retry_count %d; хотели completed, 2", got.Status, got.RetryCount)
	}
	if proc.calls != 3 {
		t.Errorf("вызовов обработки %d, хотели 3", proc.calls)
	}
}

func TestWebhookQueueBackoff(t *testing.T) {
	q := newTestQueue(newFakeJobs(), &fakeProcessor{}, 5)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for retry, w := range want {
		if got := q.backoff(retry); got != w {
			t.Errorf("backoff(%d) = %v, хотели %v", retry, got, w)
		}
	}
}

func TestWebhookQueueGetUnknownJob(t *testing.T) {
	q := newTestQueue(newFakeJobs(), &fakeProcessor{}, 3)
	if _, err := q.GetJob(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка %v, хотели ErrNotFound", err)
	}
}

func TestWebhookQueueStartProcessesOnWake(t *testing.T) {
	jobs := newFakeJobs()
	q := newTestQueue(jobs, &fakeProcessor{}, 3)
	q.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	if _, err := q.Enqueue(ctx, jobPayload("job-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if j, _ := q.GetJob(ctx, "job-1"); j != nil && j.Status == model.JobCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("задача не обработана после постановки в очередь")
}
