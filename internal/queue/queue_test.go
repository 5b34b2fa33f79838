package queue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bbtraining/checkout-api/internal/ledger"
	"github.com/bbtraining/checkout-api/internal/queue"
	"github.com/bbtraining/checkout-api/internal/vat"
)

type fakeClient struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

func TestProducerEnqueuesDelayedTasks(t *testing.T) {
	client := &fakeClient{}
	p := queue.Producer{Client: client, Delay: 15 * time.Minute}

	require.NoError(t, p.EnqueueVatRevalidate(context.Background(), queue.VatRevalidatePayload{OrderID: 1001, Country: "FR", VatNumber: "AB123456789"}))
	require.NoError(t, p.EnqueueShippingReconcile(context.Background(), queue.ShippingReconcilePayload{OrderID: 1001, Reason: "no_zone"}))

	require.Len(t, client.tasks, 2)
	require.Equal(t, queue.TypeVatRevalidate, client.tasks[0].Type())
	require.Equal(t, queue.TypeShippingReconcile, client.tasks[1].Type())
	var payload queue.VatRevalidatePayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.EqualValues(t, 1001, payload.OrderID)
	require.Len(t, client.opts[0], 4)
}

func TestProducerTreatsDuplicateAsDone(t *testing.T) {
	p := queue.Producer{Client: &fakeClient{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, p.EnqueueVatRevalidate(context.Background(), queue.VatRevalidatePayload{OrderID: 1}))

	p = queue.Producer{Client: &fakeClient{err: errors.New("redis down")}}
	require.Error(t, p.EnqueueVatRevalidate(context.Background(), queue.VatRevalidatePayload{OrderID: 1}))
}

type fakeAuthority struct {
	res vat.AuthorityResult
	err error
}

func (f fakeAuthority) Check(context.Context, string, string) (vat.AuthorityResult, error) {
	return f.res, f.err
}

type notes struct{ got []string }

func (n *notes) AddOrderNote(_ context.Context, _ int64, note string, _ bool) error {
	n.got = append(n.got, note)
	return nil
}

type resolver struct{ kinds []string }

func (r *resolver) Resolve(_ context.Context, _ uuid.UUID, kind, _ string) error {
	r.kinds = append(r.kinds, kind)
	return nil
}

func vatTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := queue.NewVatRevalidateTask(queue.VatRevalidatePayload{
		SubmissionID: uuid.New(), OrderID: 1001, Country: "FR", VatNumber: "FRAB123456789",
	})
	require.NoError(t, err)
	return task
}

func TestHandleVatRevalidateConfirms(t *testing.T) {
	n, res := &notes{}, &resolver{}
	h := queue.Handlers{Authority: fakeAuthority{res: vat.AuthorityResult{Valid: true, Name: "ACME"}}, Orders: n, Ledger: res, Logger: zerolog.Nop()}

	require.NoError(t, h.HandleVatRevalidate(context.Background(), vatTask(t)))
	require.Len(t, n.got, 1)
	require.Contains(t, n.got[0], "FRAB123456789 confirmed by VIES for ACME")
	require.Equal(t, []string{ledger.KindVatFallback}, res.kinds)
}

func TestHandleVatRevalidateRejectedKeepsItemOpen(t *testing.T) {
	n, res := &notes{}, &resolver{}
	h := queue.Handlers{Authority: fakeAuthority{}, Orders: n, Ledger: res, Logger: zerolog.Nop()}

	require.NoError(t, h.HandleVatRevalidate(context.Background(), vatTask(t)))
	require.Contains(t, n.got[0], "rejected")
	require.Empty(t, res.kinds)
}

func TestHandleVatRevalidateRetriesWhileUnavailable(t *testing.T) {
	h := queue.Handlers{Authority: fakeAuthority{err: vat.ErrAuthorityUnavailable}, Orders: &notes{}, Logger: zerolog.Nop()}
	err := h.HandleVatRevalidate(context.Background(), vatTask(t))
	require.ErrorIs(t, err, vat.ErrAuthorityUnavailable)
}

func TestHandleBadPayloadSkipsRetry(t *testing.T) {
	h := queue.Handlers{Orders: &notes{}, Logger: zerolog.Nop()}
	err := h.HandleShippingReconcile(context.Background(), asynq.NewTask(queue.TypeShippingReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleShippingReconcileAnnotatesOrder(t *testing.T) {
	n := &notes{}
	h := queue.Handlers{Orders: n, Logger: zerolog.Nop()}
	task, err := queue.NewShippingReconcileTask(queue.ShippingReconcilePayload{
		OrderID: 1001, Destination: "CH", Reason: "no_zone", Message: "no shipping zone covers CH", TotalWeight: "2",
	})
	require.NoError(t, err)
	require.NoError(t, h.HandleShippingReconcile(context.Background(), task))
	require.Contains(t, n.got[0], "Destination CH")
}

type fakeInspector struct {
	archived []*asynq.TaskInfo
	ran      []string
}

func (f *fakeInspector) GetQueueInfo(q string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: q, Pending: 2, Archived: len(f.archived)}, nil
}

func (f *fakeInspector) ListArchivedTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return f.archived, nil
}

func (f *fakeInspector) RunTask(_ string, id string) error {
	if id == "missing" {
		return asynq.ErrTaskNotFound
	}
	f.ran = append(f.ran, id)
	return nil
}

func TestAdminListAndReplay(t *testing.T) {
	insp := &fakeInspector{archived: []*asynq.TaskInfo{{ID: "a1", Type: queue.TypeVatRevalidate, Payload: []byte(`{"orderId":1}`), LastErr: "boom"}}}
	h := &queue.AdminHandler{Inspector: insp, Logger: zerolog.Nop()}

	rr := httptest.NewRecorder()
	h.ListArchived(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/archived?limit=10", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Data []struct {
			ID        string          `json:"id"`
			Payload   json.RawMessage `json:"payload"`
			LastError string          `json:"lastError"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, "boom", list.Data[0].LastError)

	body, _ := json.Marshal(map[string]any{"ids": []string{"a1", "a1", "missing"}})
	rr = httptest.NewRecorder()
	h.Replay(rr, httptest.NewRequest(http.MethodPost, "/admin/queue/replay", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []string{"a1"}, insp.ran)
	require.Contains(t, rr.Body.String(), "missing")

	rr = httptest.NewRecorder()
	h.Stats(rr, httptest.NewRequest(http.MethodGet, "/admin/queue/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"archived":1`)
}
