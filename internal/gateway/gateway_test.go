package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/robots/internal/agent"
	"github.com/rahul/robots/internal/store"
)

type stubRunner struct {
	res  *agent.Result
	err  error
	reqs []agent.Request
}

func (r *stubRunner) ExecuteNextStep(ctx context.Context, req agent.Request) (*agent.Result, error) {
	r.reqs = append(r.reqs, req)
	return r.res, r.err
}

func seedStore(t *testing.T) (*store.Store, *store.Session, *store.Plan) {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	sess := &store.Session{ProviderID: "desk-1"}
	require.NoError(t, st.CreateSession(ctx, sess))
	plan := &store.Plan{SessionID: sess.ID, Title: "Export weekly leads"}
	require.NoError(t, st.CreatePlan(ctx, plan, []store.Step{{Title: "Open the CRM"}, {Title: "Export leads"}}))
	return st, sess, plan
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPServer_Act(t *testing.T) {
	st, sess, plan := seedStore(t)
	runner := &stubRunner{res: &agent.Result{
		Success:      true,
		Step:         &agent.StepSnapshot{ID: "s1", Order: 1, Title: "Open the CRM", Status: store.StepCompleted, Result: "step 1 finished"},
		PlanProgress: &store.Progress{CompletedSteps: 1, TotalSteps: 2, Percentage: 50},
	}}
	srv := NewHTTPServer(":0", runner, st, 0, 0)

	body := fmt.Sprintf(`{"session_id":%q,"plan_id":%q,"user_instruction":"check spam"}`, sess.ID, plan.ID)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/robots/instance/plan/act", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, false, got["plan_completed"])
	assert.Equal(t, false, got["timeout"])
	step := got["step"].(map[string]any)
	assert.Equal(t, "completed", step["status"])
	assert.Equal(t, float64(1), step["order"])
	assert.Equal(t, float64(50), got["plan_progress"].(map[string]any)["percentage"])

	require.Len(t, runner.reqs, 1)
	assert.Equal(t, "check spam", runner.reqs[0].UserInstruction)
}

func TestHTTPServer_ActErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		res  *agent.Result
		want int
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "invalid parameter", body: `{}`, err: fmt.Errorf("%w: session_id is required", agent.ErrInvalidParameter), want: http.StatusBadRequest},
		{name: "unknown session", body: `{"session_id":"x","plan_id":"y"}`, err: agent.ErrSessionNotFound, want: http.StatusNotFound},
		{name: "stopped session", body: `{"session_id":"x","plan_id":"y"}`, err: agent.ErrSessionInactive, want: http.StatusConflict},
		{name: "claimed step", body: `{"session_id":"x","plan_id":"y"}`, err: agent.ErrStepClaimed, want: http.StatusConflict},
		{
			name: "failure keeps step snapshot",
			body: `{"session_id":"x","plan_id":"y"}`,
			err:  errors.New("session disconnected"),
			res:  &agent.Result{Step: &agent.StepSnapshot{ID: "s1", Order: 1, Status: store.StepFailed}, IsBlocked: true},
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewHTTPServer(":0", &stubRunner{res: tt.res, err: tt.err}, nil, 0, 0)
			rec := doJSON(t, srv.Handler(), http.MethodPost, "/robots/instance/plan/act", tt.body)
			assert.Equal(t, tt.want, rec.Code)

			var got map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, false, got["success"])
			assert.NotEmpty(t, got["error"])
			if tt.res != nil {
				assert.Equal(t, "failed", got["step"].(map[string]any)["status"])
			}
		})
	}
}

func TestHTTPServer_RateLimitPerSession(t *testing.T) {
	runner := &stubRunner{res: &agent.Result{Success: true, WaitingForInstructions: true}}
	srv := NewHTTPServer(":0", runner, nil, 0.001, 1)

	first := doJSON(t, srv.Handler(), http.MethodPost, "/robots/instance/plan/act", `{"session_id":"a","plan_id":"p"}`)
	assert.Equal(t, http.StatusOK, first.Code)
	second := doJSON(t, srv.Handler(), http.MethodPost, "/robots/instance/plan/act", `{"session_id":"a","plan_id":"p"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	other := doJSON(t, srv.Handler(), http.MethodPost, "/robots/instance/plan/act", `{"session_id":"b","plan_id":"p"}`)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestHTTPServer_RateLimitOnlyKnownSessions(t *testing.T) {
	st, sess, _ := seedStore(t)
	runner := &stubRunner{err: fmt.Errorf("%w: ghost", agent.ErrSessionNotFound)}
	srv := NewHTTPServer(":0", runner, st, 0.001, 1)

	for i := range 50 {
		rec := doJSON(t, srv.Handler(), http.MethodPost, "/robots/instance/plan/act",
			fmt.Sprintf(`{"session_id":"ghost-%d","plan_id":"p"}`, i))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	assert.Empty(t, srv.limiters)

	runner.err = nil
	runner.res = &agent.Result{Success: true, WaitingForInstructions: true}
	body := fmt.Sprintf(`{"session_id":%q,"plan_id":"p"}`, sess.ID)
	assert.Equal(t, http.StatusOK, doJSON(t, srv.Handler(), http.MethodPost, "/robots/instance/plan/act", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, srv.Handler(), http.MethodPost, "/robots/instance/plan/act", body).Code)
	assert.Len(t, srv.limiters, 1)
}

func TestHTTPServer_LimiterTableIsBounded(t *testing.T) {
	srv := NewHTTPServer(":0", &stubRunner{}, nil, 0.001, 1)

	for i := range maxLimiters + 100 {
		assert.True(t, srv.allow(fmt.Sprintf("sess-%d", i)))
	}
	assert.LessOrEqual(t, len(srv.limiters), maxLimiters)

	last := fmt.Sprintf("sess-%d", maxLimiters+99)
	assert.False(t, srv.allow(last), "recent sessions keep their limiter")
}

func TestHTTPServer_Plan(t *testing.T) {
	st, sess, plan := seedStore(t)
	srv := NewHTTPServer(":0", &stubRunner{}, st, 0, 0)

	rec := doJSON(t, srv.Handler(), http.MethodGet, fmt.Sprintf("/robots/instance/plan?session_id=%s&plan_id=%s", sess.ID, plan.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view PlanView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Export weekly leads", view.Plan.Title)
	require.Len(t, view.Steps, 2)
	assert.Equal(t, "Export leads", view.Steps[1].Title)
	assert.Equal(t, store.Progress{TotalSteps: 2}, view.Progress)

	rec = doJSON(t, srv.Handler(), http.MethodGet, fmt.Sprintf("/robots/instance/plan?session_id=%s&plan_id=nope", sess.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/robots/instance/plan?session_id=nope&plan_id=nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/robots/instance/plan", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/robots/instance/plan/act", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTPServer_Health(t *testing.T) {
	srv := NewHTTPServer(":0", &stubRunner{}, nil, 0, 0)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text    string
		want    Command
		wantErr bool
	}{
		{text: "/act s1 p1", want: Command{Name: "act", SessionID: "s1", PlanID: "p1"}},
		{text: "/act@robots_bot s1 p1 check the spam folder", want: Command{Name: "act", SessionID: "s1", PlanID: "p1", Instruction: "check the spam folder"}},
		{text: "/PLAN s1 p1", want: Command{Name: "plan", SessionID: "s1", PlanID: "p1"}},
		{text: "/help", want: Command{Name: "help"}},
		{text: "/act s1", want: Command{Name: "act"}, wantErr: true},
		{text: "/dance", want: Command{Name: "dance"}, wantErr: true},
		{text: "hello", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseCommand(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandHandler(t *testing.T) {
	st, sess, plan := seedStore(t)
	runner := &stubRunner{res: &agent.Result{
		Success:      true,
		Step:         &agent.StepSnapshot{Order: 1, Title: "Open the CRM", Status: store.StepCompleted},
		PlanProgress: &store.Progress{CompletedSteps: 1, TotalSteps: 2, Percentage: 50},
	}}
	h := NewCommandHandler(runner, st)
	ctx := context.Background()

	reply := h.Handle(ctx, fmt.Sprintf("/act %s %s", sess.ID, plan.ID))
	assert.Equal(t, "Step 1 (Open the CRM): completed\nProgress: 1/2 (50%)", reply)

	reply = h.Handle(ctx, fmt.Sprintf("/plan %s %s", sess.ID, plan.ID))
	assert.Equal(t, "Export weekly leads [pending]\nProgress: 0/2 (0%)\n\n⬜ 1. Open the CRM\n⬜ 2. Export leads", reply)

	reply = h.Handle(ctx, "/plan missing p")
	assert.Contains(t, reply, "session not found")

	assert.Contains(t, h.Handle(ctx, "/nope"), "Commands:")
}

type fakeMessenger struct {
	sent []string
}

func (f *fakeMessenger) Start() error { return nil }
func (f *fakeMessenger) Stop() error  { return nil }
func (f *fakeMessenger) Send(chatID, text string) error {
	f.sent = append(f.sent, chatID+"|"+text)
	return nil
}

func TestRouter(t *testing.T) {
	tg, dc := &fakeMessenger{}, &fakeMessenger{}
	r := NewRouter("")
	r.Add("telegram", tg)
	r.Add("discord", dc)
	assert.Equal(t, "telegram", r.Default)
	assert.Equal(t, 2, r.Len())

	require.NoError(t, r.Send("12345", "hi"))
	require.NoError(t, r.Send("discord:987", "hello"))
	require.NoError(t, r.Send("telegram:-100", "yo"))

	assert.Equal(t, []string{"12345|hi", "-100|yo"}, tg.sent)
	assert.Equal(t, []string{"987|hello"}, dc.sent)

	assert.Error(t, NewRouter("").Send("1", "x"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
