package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"efiling/internal/common"
	"efiling/internal/filing"
	"efiling/internal/filing/filingtest"
	"efiling/internal/filing/sla"
	"efiling/internal/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type recorder struct {
	mu   sync.Mutex
	sent []*notification.Notification
}

func (r *recorder) Send(_ context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) all() []*notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*notification.Notification(nil), r.sent...)
}

type fixture struct {
	db     *gorm.DB
	clock  *filing.ManualClock
	engine *Engine
	tpl    filing.WorkflowTemplate
	notes  *recorder
	ctx    context.Context
	seq    int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	db := filingtest.OpenDB(t)
	clock := filing.NewManualClock(filingtest.T0)
	tpl := filingtest.SeedThreeStage(t, db)
	filingtest.SeedActor(t, db, "clerk", filing.RoleClerk)
	filingtest.SeedActor(t, db, "ceo", filing.RoleCEO)
	filingtest.SeedActor(t, db, "ceo2", filing.RoleCEO)
	filingtest.SeedActor(t, db, "chief", filing.RoleChiefEngineer)
	filingtest.SeedActor(t, db, "eng", filing.RoleEngineer)
	filingtest.SeedActor(t, db, "admin", filing.RoleAdmin)

	notes := &recorder{}
	base := []Option{
		WithClock(clock),
		WithLogger(zaptest.NewLogger(t)),
		WithNotifier(notes),
	}
	e := New(db, append(base, opts...)...)
	t.Cleanup(e.Wait)
	return &fixture{db: db, clock: clock, engine: e, tpl: tpl, notes: notes, ctx: context.Background()}
}

func (f *fixture) submit(t *testing.T) *Result {
	t.Helper()
	f.seq++
	res, err := f.engine.Submit(f.ctx, SubmitRequest{
		FileNumber: fmt.Sprintf("NOTE-%03d", f.seq),
		Subject:    "设备采购申请",
		FileType:   "NOTE",
		CreatedBy:  "clerk",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) sign(t *testing.T, fileID, actorID string) {
	t.Helper()
	_, err := f.engine.Sign(f.ctx, fileID, actorID, map[string]any{"method": "pin"})
	require.NoError(t, err)
}

func (f *fixture) advance(fileID, actorID string, action filing.Action, remarks string) (*Result, error) {
	return f.engine.Advance(f.ctx, AdvanceRequest{FileID: fileID, ActorID: actorID, Action: action, Remarks: remarks})
}

func (f *fixture) instance(t *testing.T, fileID string) filing.WorkflowInstance {
	t.Helper()
	var wf filing.WorkflowInstance
	require.NoError(t, f.db.Where("file_id = ?", fileID).First(&wf).Error)
	return wf
}

func (f *fixture) file(t *testing.T, fileID string) filing.File {
	t.Helper()
	var file filing.File
	require.NoError(t, f.db.Where("id = ?", fileID).First(&file).Error)
	return file
}

func countMovements(t *testing.T, db *gorm.DB, fileID string, action filing.Action) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&filing.Movement{}).Where("file_id = ? AND action = ?", fileID, action).Count(&n).Error)
	return n
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)

	assert.Equal(t, 1, res.Stage.Order)
	assert.Equal(t, "clerk", res.Assignee)
	assert.Equal(t, filing.FileStatusPending, res.FileStatus)
	require.NotNil(t, res.SLADeadline)
	assert.WithinDuration(t, filingtest.T0.Add(24*time.Hour), *res.SLADeadline, time.Millisecond)
	assert.Equal(t, int64(1), countMovements(t, f.db, res.FileID, filing.ActionSubmit))

	_, err := f.engine.Submit(f.ctx, SubmitRequest{FileNumber: "X-1", Subject: "无模板", FileType: "MEMO", CreatedBy: "clerk"})
	assert.True(t, errors.Is(err, filing.ErrNotFound))

	_, err = f.engine.Submit(f.ctx, SubmitRequest{FileNumber: "X-2", FileType: "NOTE", CreatedBy: "clerk"})
	assert.True(t, errors.Is(err, filing.ErrValidation))

	file := f.file(t, res.FileID)
	_, err = f.engine.Submit(f.ctx, SubmitRequest{FileNumber: file.FileNumber, Subject: "重复", FileType: "NOTE", CreatedBy: "clerk"})
	assert.True(t, errors.Is(err, filing.ErrConflict))
}

func TestAdvance_ExecutiveReviewScenario(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)

	f.clock.Advance(2 * time.Hour)
	f.sign(t, res.FileID, "clerk")
	toExec, err := f.advance(res.FileID, "clerk", filing.ActionForward, "")
	require.NoError(t, err)
	assert.Equal(t, 2, toExec.Stage.Order)
	assert.Equal(t, "ceo", toExec.Assignee)
	assert.True(t, toExec.SLAPaused)

	wf := f.instance(t, res.FileID)
	assert.True(t, wf.SLAPaused)
	require.NotNil(t, wf.SLADeadline)
	assert.WithinDuration(t, filingtest.T0.Add(14*time.Hour), *wf.SLADeadline, time.Millisecond)
	before := wf.SLAAccumulatedHours
	assert.InDelta(t, 2.0, before, 1e-6)

	f.clock.Advance(10 * time.Hour)
	f.sign(t, res.FileID, "ceo")
	toChief, err := f.advance(res.FileID, "ceo", filing.ActionForward, "同意")
	require.NoError(t, err)
	assert.Equal(t, 3, toChief.Stage.Order)
	assert.Equal(t, "chief", toChief.Assignee)

	wf = f.instance(t, res.FileID)
	assert.False(t, wf.SLAPaused)
	assert.Nil(t, wf.SLAPausedAt)
	assert.Equal(t, f.tpl.Stages[2].ID, wf.CurrentStageID)
	assert.InDelta(t, before, wf.SLAAccumulatedHours, 1e-6)
	require.NotNil(t, wf.SLADeadline)
	assert.WithinDuration(t, f.clock.Now().Add(8*time.Hour), *wf.SLADeadline, time.Millisecond)

	history, err := f.engine.PauseHistory(f.ctx, res.FileID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].DurationHours)
	assert.InDelta(t, 10.0, *history[0].DurationHours, 1e-6)
}

func TestAdvance_MonotonicToCompleted(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)

	steps := []string{"clerk", "ceo", "chief"}
	for i, actor := range steps {
		f.sign(t, res.FileID, actor)
		out, err := f.advance(res.FileID, actor, filing.ActionApprove, "")
		require.NoError(t, err, "step %d", i)
		if i < len(steps)-1 {
			assert.Equal(t, i+2, out.Stage.Order)
			assert.Equal(t, filing.WorkflowInProgress, out.WorkflowStatus)
		} else {
			assert.Equal(t, 3, out.Stage.Order)
			assert.Equal(t, filing.WorkflowCompleted, out.WorkflowStatus)
			assert.Equal(t, filing.FileStatusCompleted, out.FileStatus)
		}
	}

	wf := f.instance(t, res.FileID)
	assert.Equal(t, f.tpl.Stages[2].ID, wf.CurrentStageID)
	assert.Equal(t, filing.WorkflowCompleted, wf.Status)
	assert.NotNil(t, wf.CompletedAt)

	_, err := f.advance(res.FileID, "chief", filing.ActionApprove, "")
	assert.True(t, errors.Is(err, filing.ErrConflict))

	st, err := f.engine.GetSLAStatus(f.ctx, res.FileID)
	require.NoError(t, err)
	assert.Equal(t, sla.StateCompleted, st.State)
}

func TestAdvance_RejectAtFirstStageWithoutRemarks(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)
	f.sign(t, res.FileID, "clerk")

	out, err := f.advance(res.FileID, "clerk", filing.ActionReject, "")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Stage.Order)
	assert.Equal(t, filing.WorkflowInProgress, out.WorkflowStatus)
	assert.Equal(t, filing.FileStatusRejected, out.FileStatus)
}

func TestAdvance_RejectAtFirstStageAndReactivate(t *testing.T) {
	f := newFixture(t, WithRemarksPolicy(MustRemarksPolicy(RejectRemarksPolicy)))
	res := f.submit(t)
	f.sign(t, res.FileID, "clerk")

	_, err := f.advance(res.FileID, "clerk", filing.ActionReject, "")
	assert.True(t, errors.Is(err, filing.ErrValidation), "驳回必须填写意见")

	out, err := f.advance(res.FileID, "clerk", filing.ActionReject, "资料不全")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Stage.Order)
	assert.Equal(t, "clerk", out.Assignee)
	assert.Equal(t, filing.FileStatusRejected, out.FileStatus)

	file := f.file(t, res.FileID)
	assert.Equal(t, "clerk", file.RejectedBy)
	assert.Equal(t, "资料不全", file.RejectionReason)
	require.NotNil(t, file.RejectedAt)
	deadline := f.instance(t, res.FileID).SLADeadline

	_, err = f.engine.Reactivate(f.ctx, res.FileID, "eng", "")
	assert.True(t, errors.Is(err, filing.ErrForbidden))
	assert.Equal(t, filing.ReasonNotCreator, filing.Reason(err))

	f.clock.Advance(time.Hour)
	react, err := f.engine.Reactivate(f.ctx, res.FileID, "clerk", "已补充材料")
	require.NoError(t, err)
	assert.Equal(t, filing.FileStatusPending, react.FileStatus)
	assert.Equal(t, filing.ActionReactivate, react.Movement.Action)
	assert.Contains(t, string(react.Movement.Metadata), "资料不全")

	file = f.file(t, res.FileID)
	assert.Equal(t, filing.FileStatusPending, file.Status)
	assert.Empty(t, file.RejectedBy)
	assert.Nil(t, file.RejectedAt)
	assert.Equal(t, deadline, f.instance(t, res.FileID).SLADeadline, "重新激活不重置计时")
	assert.Equal(t, int64(1), countMovements(t, f.db, res.FileID, filing.ActionReactivate))

	_, err = f.engine.Reactivate(f.ctx, res.FileID, "clerk", "")
	assert.True(t, errors.Is(err, filing.ErrConflict))

	_, err = f.advance(res.FileID, "clerk", filing.ActionForward, "")
	require.NoError(t, err)
}

func TestAdvance_RejectedFileContinuesFromPredecessor(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)
	f.sign(t, res.FileID, "clerk")
	_, err := f.advance(res.FileID, "clerk", filing.ActionForward, "")
	require.NoError(t, err)
	f.sign(t, res.FileID, "ceo")
	_, err = f.advance(res.FileID, "ceo", filing.ActionForward, "")
	require.NoError(t, err)

	f.sign(t, res.FileID, "chief")
	rejected, err := f.advance(res.FileID, "chief", filing.ActionReject, "技术参数有误")
	require.NoError(t, err)
	assert.Equal(t, 2, rejected.Stage.Order)
	assert.Equal(t, "ceo", rejected.Assignee)
	assert.Equal(t, filing.FileStatusRejected, rejected.FileStatus)

	f.clock.Advance(time.Hour)
	f.sign(t, res.FileID, "ceo")
	out, err := f.advance(res.FileID, "ceo", filing.ActionForward, "已修正")
	require.NoError(t, err)
	assert.Equal(t, 3, out.Stage.Order)
	assert.Equal(t, "chief", out.Assignee)
	assert.Equal(t, filing.FileStatusPending, out.FileStatus)
	assert.Contains(t, string(out.Movement.Metadata), "reopened_from")

	file := f.file(t, res.FileID)
	assert.Equal(t, filing.FileStatusPending, file.Status)
	assert.Empty(t, file.RejectedBy)
	assert.Empty(t, file.RejectionReason)
	assert.Nil(t, file.RejectedAt)

	_, err = f.engine.Reactivate(f.ctx, res.FileID, "clerk", "")
	assert.True(t, errors.Is(err, filing.ErrConflict), "隐式重新激活后不再处于驳回状态")
}

func TestAdvance_ReturnGoesBackToPreviousActor(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)
	f.sign(t, res.FileID, "clerk")
	_, err := f.advance(res.FileID, "clerk", filing.ActionForward, "")
	require.NoError(t, err)

	f.sign(t, res.FileID, "ceo")
	out, err := f.advance(res.FileID, "ceo", filing.ActionReturn, "请补充预算")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Stage.Order)
	assert.Equal(t, "clerk", out.Assignee)
	assert.Equal(t, filing.FileStatusReturned, out.FileStatus)
	assert.False(t, out.SLAPaused)

	history, err := f.engine.PauseHistory(f.ctx, res.FileID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Open())
}

func TestAdvance_PermissionGating(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)

	_, err := f.advance(res.FileID, "clerk", filing.ActionApprove, "")
	require.True(t, errors.Is(err, filing.ErrForbidden))
	assert.Equal(t, filing.ReasonSignatureRequired, filing.Reason(err))

	_, err = f.advance(res.FileID, "chief", filing.ActionApprove, "")
	require.True(t, errors.Is(err, filing.ErrForbidden))
	assert.Equal(t, filing.ReasonNotAssigned, filing.Reason(err))

	perms, err := f.engine.GetPermissions(f.ctx, res.FileID, "clerk")
	require.NoError(t, err)
	assert.False(t, perms.CanApprove)
	assert.True(t, perms.RequiresSignature)

	f.sign(t, res.FileID, "clerk")
	perms, err = f.engine.GetPermissions(f.ctx, res.FileID, "clerk")
	require.NoError(t, err)
	assert.True(t, perms.CanApprove)
	assert.True(t, perms.CanForward)
	assert.False(t, perms.RequiresSignature)

	_, err = f.advance(res.FileID, "clerk", filing.ActionSign, "")
	assert.True(t, errors.Is(err, filing.ErrValidation))

	_, err = f.advance("missing", "clerk", filing.ActionApprove, "")
	assert.True(t, errors.Is(err, filing.ErrNotFound))
}

func TestAdvance_AdminForwardAndExplicitRecipient(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)

	_, err := f.engine.Advance(f.ctx, AdvanceRequest{FileID: res.FileID, ActorID: "admin", Action: filing.ActionForward, ToActor: "chief"})
	assert.True(t, errors.Is(err, filing.ErrValidation), "接收人角色必须匹配")

	out, err := f.engine.Advance(f.ctx, AdvanceRequest{FileID: res.FileID, ActorID: "admin", Action: filing.ActionForward, ToActor: "ceo2"})
	require.NoError(t, err)
	assert.Equal(t, "ceo2", out.Assignee)
}

func TestAdvance_DuplicateOrders(t *testing.T) {
	f := newFixture(t)
	tpl := filingtest.SeedTemplate(t, f.db, "MEMO",
		filingtest.StageSpec{Order: 1, Role: filing.RoleClerk, SLAHours: 4},
		filingtest.StageSpec{Order: 2, Role: filing.RoleEngineer, SLAHours: 4},
	)
	require.NoError(t, f.db.Create(&filing.Stage{
		ID: "MEMO-s2b", TemplateID: tpl.ID, Order: 2, Name: "复核", OwnerRole: filing.RoleChiefEngineer, SLAHours: 4,
	}).Error)
	res, err := f.engine.Submit(f.ctx, SubmitRequest{FileNumber: "MEMO-1", Subject: "备忘", FileType: "MEMO", CreatedBy: "clerk"})
	require.NoError(t, err)
	f.sign(t, res.FileID, "clerk")

	_, err = f.advance(res.FileID, "clerk", filing.ActionForward, "")
	assert.True(t, errors.Is(err, filing.ErrConflict))

	wf := f.instance(t, res.FileID)
	assert.Equal(t, "MEMO-s1", wf.CurrentStageID)
	assert.Zero(t, countMovements(t, f.db, res.FileID, filing.ActionForward))
}

func TestBump_StaleVersion(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)
	stale := f.instance(t, res.FileID)
	fresh := stale

	require.NoError(t, bump(f.ctx, f.db, "test", &fresh, nil))
	assert.Equal(t, stale.Version+1, fresh.Version)

	err := bump(f.ctx, f.db, "test", &stale, map[string]any{"current_assignee": "eng"})
	assert.True(t, errors.Is(err, filing.ErrConflict))
	assert.Equal(t, "clerk", f.instance(t, res.FileID).CurrentAssignee)
}

func TestAdvance_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)
	f.sign(t, res.FileID, "clerk")

	const workers = 5
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.advance(res.FileID, "clerk", filing.ActionForward, "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		kind := filing.KindOf(err)
		assert.True(t, kind == filing.ErrForbidden || kind == filing.ErrConflict, "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(1), countMovements(t, f.db, res.FileID, filing.ActionForward))
	assert.Equal(t, f.tpl.Stages[1].ID, f.instance(t, res.FileID).CurrentStageID)
}

func TestRemarksPolicy(t *testing.T) {
	_, err := NewRemarksPolicy(`(action == "REJECT"`)
	require.Error(t, err)

	p, err := NewRemarksPolicy(`stage_order >= 2 && action == "APPROVE"`)
	require.NoError(t, err)
	stage := &filing.Stage{Order: 2}
	required, err := p.Requires(filing.ActionApprove, filing.RoleCEO, stage, false)
	require.NoError(t, err)
	assert.True(t, required)
	required, err = p.Requires(filing.ActionApprove, filing.RoleCEO, &filing.Stage{Order: 1}, false)
	require.NoError(t, err)
	assert.False(t, required)

	notBool, err := NewRemarksPolicy(`stage_order + 1`)
	require.NoError(t, err)
	_, err = notBool.Requires(filing.ActionApprove, filing.RoleCEO, stage, false)
	assert.Error(t, err)

	f := newFixture(t, WithRemarksPolicy(MustRemarksPolicy(`is_last_stage == false && action == "FORWARD"`)))
	res := f.submit(t)
	f.sign(t, res.FileID, "clerk")
	_, err = f.advance(res.FileID, "clerk", filing.ActionForward, " ")
	assert.True(t, errors.Is(err, filing.ErrValidation))
	_, err = f.advance(res.FileID, "clerk", filing.ActionForward, "请审阅")
	require.NoError(t, err)
}

func TestCompleteAsExecutive(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)

	_, err := f.engine.CompleteAsExecutive(f.ctx, res.FileID, "ceo", "")
	require.True(t, errors.Is(err, filing.ErrForbidden))
	assert.Equal(t, filing.ReasonNotAssigned, filing.Reason(err))

	f.sign(t, res.FileID, "clerk")
	_, err = f.advance(res.FileID, "clerk", filing.ActionForward, "")
	require.NoError(t, err)

	_, err = f.engine.CompleteAsExecutive(f.ctx, res.FileID, "admin", "")
	require.True(t, errors.Is(err, filing.ErrForbidden))
	assert.Equal(t, filing.ReasonNotExecutive, filing.Reason(err))

	f.clock.Advance(3 * time.Hour)
	out, err := f.engine.CompleteAsExecutive(f.ctx, res.FileID, "ceo2", "直接批准")
	require.NoError(t, err, "暂停在本角色阶段时同角色高层可办结")
	assert.Equal(t, filing.WorkflowCompleted, out.WorkflowStatus)
	assert.Equal(t, filing.FileStatusCompleted, f.file(t, res.FileID).Status)

	wf := f.instance(t, res.FileID)
	assert.False(t, wf.SLAPaused)
	assert.Nil(t, wf.SLADeadline)
	history, err := f.engine.PauseHistory(f.ctx, res.FileID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].DurationHours)
	assert.InDelta(t, 3.0, *history[0].DurationHours, 1e-6)

	_, err = f.engine.CompleteAsExecutive(f.ctx, res.FileID, "ceo", "")
	assert.True(t, errors.Is(err, filing.ErrConflict))
}

func TestMarkTo_NotifiesRecipient(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)

	_, err := f.engine.MarkTo(f.ctx, res.FileID, "clerk", "eng", "")
	require.True(t, errors.Is(err, filing.ErrForbidden))
	assert.Equal(t, filing.ReasonSignatureRequired, filing.Reason(err))

	f.sign(t, res.FileID, "clerk")
	out, err := f.engine.MarkTo(f.ctx, res.FileID, "clerk", "eng", "请协助核对")
	require.NoError(t, err)
	assert.Equal(t, "eng", out.Assignee)
	assert.Equal(t, "eng", out.Movement.ToActor)
	assert.Equal(t, 1, out.Stage.Order)

	f.engine.Wait()
	sent := f.notes.all()
	require.Len(t, sent, 1)
	assert.Equal(t, notification.ChannelEmail, sent[0].Type)
	assert.Equal(t, "eng@example.org", sent[0].To)
	assert.Equal(t, res.FileID, sent[0].Data["file_id"])

	_, err = f.engine.MarkTo(f.ctx, res.FileID, "clerk", "nobody", "")
	assert.True(t, errors.Is(err, filing.ErrNotFound))
}

func TestSign_AppendsEveryTime(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)

	first, err := f.engine.Sign(f.ctx, res.FileID, "clerk", map[string]any{"method": "pin"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.engine.Sign(f.ctx, res.FileID, "clerk", map[string]any{"method": "pin"})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, first.Digest, 64)
	assert.NotEqual(t, first.Digest, second.Digest)
	assert.Equal(t, int64(2), countMovements(t, f.db, res.FileID, filing.ActionSign))
}

func TestArchive(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)

	_, err := f.engine.Archive(f.ctx, res.FileID, "clerk", "")
	require.True(t, errors.Is(err, filing.ErrForbidden))
	assert.Equal(t, filing.ReasonNotSuperuser, filing.Reason(err))

	out, err := f.engine.Archive(f.ctx, res.FileID, "admin", "年度归档")
	require.NoError(t, err)
	assert.Equal(t, filing.FileStatusArchived, out.FileStatus)

	_, err = f.engine.Sign(f.ctx, res.FileID, "clerk", nil)
	assert.True(t, errors.Is(err, filing.ErrConflict))
	_, err = f.engine.Archive(f.ctx, res.FileID, "admin", "")
	assert.True(t, errors.Is(err, filing.ErrConflict))

	st, err := f.engine.GetSLAStatus(f.ctx, res.FileID)
	require.NoError(t, err)
	assert.Equal(t, sla.StateCompleted, st.State)
}

func TestMovementsAndEvents(t *testing.T) {
	f := newFixture(t)
	res := f.submit(t)

	events, cancel := f.engine.Events().Subscribe(res.FileID)
	defer cancel()

	f.sign(t, res.FileID, "clerk")
	_, err := f.advance(res.FileID, "clerk", filing.ActionForward, "")
	require.NoError(t, err)

	got := []filing.Action{(<-events).Action, (<-events).Action}
	assert.Equal(t, []filing.Action{filing.ActionSign, filing.ActionForward}, got)

	trail, err := f.engine.Movements(f.ctx, res.FileID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	for i, m := range trail {
		assert.Equal(t, int64(i+1), m.Seq)
	}
	assert.Equal(t, filing.ActionForward, trail[2].Action)

	_, err = f.engine.Movements(f.ctx, "missing")
	assert.True(t, errors.Is(err, filing.ErrNotFound))
}

func TestInbox(t *testing.T) {
	f := newFixture(t)
	first := f.submit(t)
	second := f.submit(t)
	f.sign(t, second.FileID, "clerk")
	_, err := f.advance(second.FileID, "clerk", filing.ActionForward, "")
	require.NoError(t, err)

	items, total, err := f.engine.Inbox(f.ctx, "clerk", InboxFilter{}, common.DefaultPagination())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, first.FileID, items[0].File.ID)

	paused := true
	items, total, err = f.engine.Inbox(f.ctx, "ceo", InboxFilter{Paused: &paused}, common.DefaultPagination())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.True(t, items[0].Workflow.SLAPaused)

	due := filingtest.T0.Add(time.Hour)
	_, total, err = f.engine.Inbox(f.ctx, "clerk", InboxFilter{DueBefore: &due}, common.DefaultPagination())
	require.NoError(t, err)
	assert.Zero(t, total)

	_, total, err = f.engine.Inbox(f.ctx, "eng", InboxFilter{}, common.DefaultPagination())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(&EventBusConfig{BufferSize: 1})
	ch, cancel := bus.Subscribe("f1")
	assert.Equal(t, 1, bus.Subscribers("f1"))

	bus.Publish(Event{FileID: "f1", Action: filing.ActionSign})
	bus.Publish(Event{FileID: "f1", Action: filing.ActionForward})
	assert.Equal(t, filing.ActionSign, (<-ch).Action)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, bus.Subscribers("f1"))
}
