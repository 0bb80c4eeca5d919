package sla

import (
	"context"
	"errors"
	"testing"
	"time"

	"efiling/internal/filing"
	"efiling/internal/filing/filingtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	clock   *filing.ManualClock
	tracker *Tracker
	tpl     filing.WorkflowTemplate
	wf      filing.WorkflowInstance
}

func newFixture(t *testing.T) *fixture {
	db := filingtest.OpenDB(t)
	clock := filing.NewManualClock(filingtest.T0)
	tpl := filingtest.SeedThreeStage(t, db)
	_, wf := filingtest.SeedInstance(t, db, tpl, tpl.Stages[0], "clerk", "clerk", filingtest.T0)
	return &fixture{
		db:      db,
		clock:   clock,
		tracker: NewTracker(WithClock(clock), WithLogger(zaptest.NewLogger(t))),
		tpl:     tpl,
		wf:      wf,
	}
}

func (f *fixture) pause(t *testing.T) bool {
	var changed bool
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		_, changed, err = f.tracker.Pause(context.Background(), tx, f.wf.ID, "ceo", f.tpl.Stages[1].ID)
		return err
	})
	require.NoError(t, err)
	return changed
}

func (f *fixture) resume(t *testing.T, next *filing.Stage) {
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.tracker.Resume(context.Background(), tx, f.wf.ID, next)
		return err
	})
	require.NoError(t, err)
}

func TestPause_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(3 * time.Hour)

	assert.True(t, f.pause(t))
	first := filingtest.ReloadInstance(t, f.db, f.wf.ID)

	f.clock.Advance(90 * time.Minute)
	assert.False(t, f.pause(t))
	second := filingtest.ReloadInstance(t, f.db, f.wf.ID)

	assert.Equal(t, first.SLAAccumulatedHours, second.SLAAccumulatedHours)
	assert.Equal(t, first.SLAPauseCount, second.SLAPauseCount)
	require.NotNil(t, second.SLAPausedAt)
	assert.True(t, first.SLAPausedAt.Equal(*second.SLAPausedAt))

	var open int64
	require.NoError(t, f.db.Model(&filing.PauseHistory{}).Where("resumed_at IS NULL").Count(&open).Error)
	assert.Equal(t, int64(1), open)
}

func TestPauseResume_Accounting(t *testing.T) {
	f := newFixture(t)
	next := f.tpl.Stages[0]
	next.SLAHours = 24

	f.clock.Advance(5 * time.Hour)
	f.pause(t)

	paused := filingtest.ReloadInstance(t, f.db, f.wf.ID)
	assert.True(t, paused.SLAPaused)
	require.NotNil(t, paused.SLAPausedAt)
	assert.InDelta(t, 5.0, paused.SLAAccumulatedHours, 1e-9)
	assert.Equal(t, 1, paused.SLAPauseCount)

	f.clock.Advance(2 * time.Hour)
	f.resume(t, &next)

	resumed := filingtest.ReloadInstance(t, f.db, f.wf.ID)
	assert.False(t, resumed.SLAPaused)
	assert.Nil(t, resumed.SLAPausedAt)
	assert.InDelta(t, 5.0, resumed.SLAAccumulatedHours, 1e-9)
	require.NotNil(t, resumed.SLADeadline)
	assert.True(t, resumed.SLADeadline.Equal(filingtest.T0.Add(7*time.Hour+24*time.Hour)),
		"deadline = %s", resumed.SLADeadline)

	history, err := f.tracker.History(context.Background(), f.db, f.wf.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].ResumedAt)
	require.NotNil(t, history[0].DurationHours)
	assert.InDelta(t, 2.0, *history[0].DurationHours, 1e-9)
}

func TestPauseResume_Cycles(t *testing.T) {
	f := newFixture(t)
	next := f.tpl.Stages[2]
	const cycles = 4

	for i := 0; i < cycles; i++ {
		f.clock.Advance(time.Hour)
		f.pause(t)

		var open int64
		require.NoError(t, f.db.Model(&filing.PauseHistory{}).
			Where("workflow_id = ? AND resumed_at IS NULL", f.wf.ID).Count(&open).Error)
		assert.Equal(t, int64(1), open)

		f.clock.Advance(30 * time.Minute)
		f.resume(t, &next)
	}

	var closed, open int64
	require.NoError(t, f.db.Model(&filing.PauseHistory{}).
		Where("workflow_id = ? AND resumed_at IS NOT NULL", f.wf.ID).Count(&closed).Error)
	require.NoError(t, f.db.Model(&filing.PauseHistory{}).
		Where("workflow_id = ? AND resumed_at IS NULL", f.wf.ID).Count(&open).Error)
	assert.Equal(t, int64(cycles), closed)
	assert.Zero(t, open)

	wf := filingtest.ReloadInstance(t, f.db, f.wf.ID)
	assert.Equal(t, cycles, wf.SLAPauseCount)
	assert.InDelta(t, float64(cycles), wf.SLAAccumulatedHours, 1e-9, "只累计未暂停的时段")
}

func TestResume_WithoutOpenRecord(t *testing.T) {
	f := newFixture(t)
	next := f.tpl.Stages[2]

	f.clock.Advance(time.Hour)
	f.resume(t, &next)

	wf := filingtest.ReloadInstance(t, f.db, f.wf.ID)
	assert.False(t, wf.SLAPaused)
	require.NotNil(t, wf.SLADeadline)
	assert.True(t, wf.SLADeadline.Equal(filingtest.T0.Add(9*time.Hour)))
	assert.Nil(t, wf.SLALastResumedAt, "未暂停时不改变计时起点")
}

func TestPause_MissingWorkflow(t *testing.T) {
	f := newFixture(t)
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, _, err := f.tracker.Pause(context.Background(), tx, "missing", "ceo", "")
		return err
	})
	assert.True(t, errors.Is(err, filing.ErrNotFound))
}

func TestApply_ExecutiveStageFreezesDeadline(t *testing.T) {
	f := newFixture(t)
	exec := f.tpl.Stages[1]

	f.clock.Advance(4 * time.Hour)
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.tracker.Apply(context.Background(), tx, f.wf.ID, &exec, "clerk")
		return err
	})
	require.NoError(t, err)

	wf := filingtest.ReloadInstance(t, f.db, f.wf.ID)
	assert.True(t, wf.SLAPaused)
	require.NotNil(t, wf.SLADeadline)
	assert.True(t, wf.SLADeadline.Equal(filingtest.T0.Add(16*time.Hour)))

	// 已暂停时再次进入高层阶段不推进截止时间
	f.clock.Advance(3 * time.Hour)
	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.tracker.Apply(context.Background(), tx, f.wf.ID, &exec, "ceo")
		return err
	})
	require.NoError(t, err)
	again := filingtest.ReloadInstance(t, f.db, f.wf.ID)
	assert.True(t, again.SLADeadline.Equal(*wf.SLADeadline))
	assert.Equal(t, 1, again.SLAPauseCount)
}

func TestApply_CloseAccumulatesFinalSegment(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(6 * time.Hour)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.tracker.Apply(context.Background(), tx, f.wf.ID, nil, "clerk")
		return err
	})
	require.NoError(t, err)

	wf := filingtest.ReloadInstance(t, f.db, f.wf.ID)
	assert.Nil(t, wf.SLADeadline)
	assert.InDelta(t, 6.0, wf.SLAAccumulatedHours, 1e-9)
}

func TestClose_KeepsClockOrigin(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(6 * time.Hour)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.tracker.Close(context.Background(), tx, f.wf.ID)
		return err
	})
	require.NoError(t, err)

	wf := filingtest.ReloadInstance(t, f.db, f.wf.ID)
	assert.Nil(t, wf.SLALastResumedAt, "办结不改变计时起点")
	assert.True(t, wf.ClockStart().Equal(filingtest.T0))
	assert.InDelta(t, 6.0, wf.SLAAccumulatedHours, 1e-9)
}

func TestClose_WhilePausedEndsPauseRecord(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(2 * time.Hour)
	require.True(t, f.pause(t))

	f.clock.Advance(5 * time.Hour)
	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.tracker.Close(context.Background(), tx, f.wf.ID)
		return err
	})
	require.NoError(t, err)

	wf := filingtest.ReloadInstance(t, f.db, f.wf.ID)
	assert.False(t, wf.SLAPaused)
	assert.Nil(t, wf.SLAPausedAt)
	assert.Nil(t, wf.SLADeadline)
	assert.Nil(t, wf.SLALastResumedAt)
	assert.InDelta(t, 2.0, wf.SLAAccumulatedHours, 1e-9, "暂停时段不计入")

	var record filing.PauseHistory
	require.NoError(t, f.db.Where("workflow_id = ?", f.wf.ID).First(&record).Error)
	require.NotNil(t, record.ResumedAt)
	require.NotNil(t, record.DurationHours)
	assert.InDelta(t, 5.0, *record.DurationHours, 1e-9)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.tracker.Status(ctx, f.db, "no-such-file")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, st.State)

	f.clock.Advance(20 * time.Hour)
	st, err = f.tracker.Status(ctx, f.db, f.wf.FileID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
	assert.InDelta(t, 4.0, st.RemainingHours, 1e-9)

	f.clock.Advance(5 * time.Hour)
	st, err = f.tracker.Status(ctx, f.db, f.wf.FileID)
	require.NoError(t, err)
	assert.Equal(t, StateBreached, st.State)
	assert.InDelta(t, -1.0, st.RemainingHours, 1e-9)

	f.pause(t)
	st, err = f.tracker.Status(ctx, f.db, f.wf.FileID)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, st.State)
	assert.Equal(t, ReasonExecutiveReview, st.Reason)
	assert.Equal(t, 1, st.PauseCount)
	assert.InDelta(t, 25.0, st.AccumulatedHours, 1e-9)
}
