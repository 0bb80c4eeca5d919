// Package filingtest 测试辅助：内存数据库与基础数据
package filingtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"efiling/internal/filing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// T0 测试起始时间
var T0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// OpenDB 每个测试独立的内存库
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库共享缓存下多连接并发写会返回 SQLITE_LOCKED
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(filing.Models()...))
	return db
}

// StageSpec 阶段简写
type StageSpec struct {
	Order       int
	Role        filing.Role
	SLAHours    float64
	CanEscalate bool
}

// SeedTemplate 写入模板与阶段
func SeedTemplate(t testing.TB, db *gorm.DB, fileType string, specs ...StageSpec) filing.WorkflowTemplate {
	t.Helper()
	tpl := filing.WorkflowTemplate{
		ID:       "tpl-" + fileType,
		FileType: fileType,
		Name:     fileType + " 审批",
	}
	require.NoError(t, db.Create(&tpl).Error)
	for _, s := range specs {
		stage := filing.Stage{
			ID:          fmt.Sprintf("%s-s%d", fileType, s.Order),
			TemplateID:  tpl.ID,
			Order:       s.Order,
			Name:        fmt.Sprintf("阶段%d", s.Order),
			OwnerRole:   s.Role,
			SLAHours:    s.SLAHours,
			CanAttach:   true,
			CanComment:  true,
			CanEscalate: s.CanEscalate,
		}
		require.NoError(t, db.Create(&stage).Error)
		tpl.Stages = append(tpl.Stages, stage)
	}
	return tpl
}

// SeedThreeStage 24/12/8 小时三阶段模板，第二阶段由 CEO 办理
func SeedThreeStage(t testing.TB, db *gorm.DB) filing.WorkflowTemplate {
	return SeedTemplate(t, db, "NOTE",
		StageSpec{Order: 1, Role: filing.RoleClerk, SLAHours: 24},
		StageSpec{Order: 2, Role: filing.RoleCEO, SLAHours: 12},
		StageSpec{Order: 3, Role: filing.RoleChiefEngineer, SLAHours: 8, CanEscalate: true},
	)
}

// SeedActor 写入办理人
func SeedActor(t testing.TB, db *gorm.DB, id string, role filing.Role) filing.Actor {
	t.Helper()
	a := filing.Actor{
		ID:     id,
		Name:   strings.ToUpper(id[:1]) + id[1:],
		Role:   role,
		Email:  id + "@example.org",
		Active: true,
	}
	require.NoError(t, db.Create(&a).Error)
	return a
}

// SeedInstance 直接写入文件与流程实例，跳过引擎
func SeedInstance(t testing.TB, db *gorm.DB, tpl filing.WorkflowTemplate, stage filing.Stage, creator, assignee string, startedAt time.Time) (filing.File, filing.WorkflowInstance) {
	t.Helper()
	file := filing.File{
		ID:         uuid.NewString(),
		FileNumber: "F-" + uuid.NewString()[:8],
		Subject:    "测试文件",
		FileType:   tpl.FileType,
		Status:     filing.FileStatusPending,
		CreatedBy:  creator,
	}
	require.NoError(t, db.Create(&file).Error)

	deadline := filing.AddHours(startedAt, stage.SLAHours)
	wf := filing.WorkflowInstance{
		ID:              uuid.NewString(),
		FileID:          file.ID,
		TemplateID:      tpl.ID,
		CurrentStageID:  stage.ID,
		CurrentAssignee: assignee,
		Status:          filing.WorkflowInProgress,
		SLADeadline:     &deadline,
		StartedAt:       startedAt,
		Version:         1,
	}
	require.NoError(t, db.Create(&wf).Error)
	return file, wf
}

// ReloadInstance 重新读取流程实例
func ReloadInstance(t testing.TB, db *gorm.DB, id string) filing.WorkflowInstance {
	t.Helper()
	var wf filing.WorkflowInstance
	require.NoError(t, db.Where("id = ?", id).First(&wf).Error)
	return wf
}
