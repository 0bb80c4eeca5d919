// Package catalog 从 YAML 加载流程模板与阶段定义并同步到数据库
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"efiling/internal/filing"
	"efiling/internal/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Catalog 阶段目录
type Catalog struct {
	Templates []TemplateSpec `yaml:"templates"`
}

// TemplateSpec 模板定义
type TemplateSpec struct {
	ID       string      `yaml:"id"`
	FileType string      `yaml:"file_type"`
	Name     string      `yaml:"name"`
	Stages   []StageSpec `yaml:"stages"`
}

// StageSpec 阶段定义
type StageSpec struct {
	ID          string  `yaml:"id"`
	Order       int     `yaml:"order"`
	Name        string  `yaml:"name"`
	OwnerRole   string  `yaml:"owner_role"`
	SLAHours    float64 `yaml:"sla_hours"`
	CanAttach   bool    `yaml:"can_attach"`
	CanComment  bool    `yaml:"can_comment"`
	CanEscalate bool    `yaml:"can_escalate"`
}

// Parse 解析 YAML，未知字段视为错误
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, filing.Validationf("catalog.Parse", "解析阶段目录失败: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile 读取并解析目录文件
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取阶段目录 %s 失败: %w", path, err)
	}
	return Parse(data)
}

// Validate 校验目录；同一模板内序号重复返回 Conflict
func (c *Catalog) Validate() error {
	const op = "catalog.Validate"
	if len(c.Templates) == 0 {
		return filing.Validationf(op, "阶段目录为空")
	}
	fileTypes := map[string]bool{}
	stageIDs := map[string]bool{}
	for ti := range c.Templates {
		t := &c.Templates[ti]
		t.ID = strings.TrimSpace(t.ID)
		t.FileType = strings.TrimSpace(t.FileType)
		if t.ID == "" || t.FileType == "" {
			return filing.Validationf(op, "第 %d 个模板缺少 id 或 file_type", ti+1)
		}
		if t.Name == "" {
			t.Name = t.FileType
		}
		if fileTypes[t.FileType] {
			return filing.Conflictf(op, "文件类型 %s 重复定义", t.FileType)
		}
		fileTypes[t.FileType] = true
		if len(t.Stages) == 0 {
			return filing.Validationf(op, "模板 %s 没有阶段", t.ID)
		}

		orders := map[int]string{}
		for si := range t.Stages {
			s := &t.Stages[si]
			if s.ID == "" {
				s.ID = fmt.Sprintf("%s-s%d", t.ID, s.Order)
			}
			if stageIDs[s.ID] {
				return filing.Conflictf(op, "阶段 id %s 重复", s.ID)
			}
			stageIDs[s.ID] = true
			if s.Order < 1 {
				return filing.Validationf(op, "阶段 %s 的序号必须从 1 开始", s.ID)
			}
			if prev, ok := orders[s.Order]; ok {
				return filing.Conflictf(op, "模板 %s 中阶段 %s 与 %s 的序号 %d 重复", t.ID, prev, s.ID, s.Order)
			}
			orders[s.Order] = s.ID
			role, err := filing.ParseRole(s.OwnerRole)
			if err != nil {
				return filing.Validationf(op, "阶段 %s: %v", s.ID, err)
			}
			s.OwnerRole = string(role)
			if s.SLAHours <= 0 {
				return filing.Validationf(op, "阶段 %s 的办理时限必须大于 0", s.ID)
			}
			if s.Name == "" {
				s.Name = fmt.Sprintf("阶段%d", s.Order)
			}
		}
	}
	return nil
}

// SyncResult 同步统计
type SyncResult struct {
	Templates int `json:"templates"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Sync 将目录写入数据库；已被流程实例引用的阶段不允许修改
func Sync(ctx context.Context, db *gorm.DB, c *Catalog, log *zap.Logger) (*SyncResult, error) {
	const op = "catalog.Sync"
	if log == nil {
		log = logger.Get()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	res := &SyncResult{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range c.Templates {
			tpl := filing.WorkflowTemplate{ID: t.ID, FileType: t.FileType, Name: t.Name}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"file_type", "name"}),
			}).Create(&tpl).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return filing.Conflictf(op, "文件类型 %s 已绑定其他模板", t.FileType)
				}
				return filing.Internal(op, err)
			}
			res.Templates++

			for _, s := range t.Stages {
				want := filing.Stage{
					ID:          s.ID,
					TemplateID:  t.ID,
					Order:       s.Order,
					Name:        s.Name,
					OwnerRole:   filing.Role(s.OwnerRole),
					SLAHours:    s.SLAHours,
					CanAttach:   s.CanAttach,
					CanComment:  s.CanComment,
					CanEscalate: s.CanEscalate,
				}
				if err := syncStage(ctx, tx, op, &want, res); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("阶段目录已同步",
		zap.Int("templates", res.Templates),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged))
	return res, nil
}

// syncStage 模板一旦被任何流程实例使用，其阶段既不能修改也不能新增，否则会改变在途文件的路线
func syncStage(ctx context.Context, tx *gorm.DB, op string, want *filing.Stage, res *SyncResult) error {
	var have filing.Stage
	err := tx.WithContext(ctx).Where("id = ?", want.ID).First(&have).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		refs, err := templateRefs(ctx, tx, op, want.TemplateID)
		if err != nil {
			return err
		}
		if refs > 0 {
			return filing.Conflictf(op, "模板 %s 已被 %d 个流程引用，不能新增阶段 %s", want.TemplateID, refs, want.ID)
		}
		if err := tx.WithContext(ctx).Create(want).Error; err != nil {
			return filing.Internal(op, err)
		}
		res.Created++
		return nil
	case err != nil:
		return filing.Internal(op, err)
	}

	if have == *want {
		res.Unchanged++
		return nil
	}
	refs, err := templateRefs(ctx, tx, op, have.TemplateID, want.TemplateID)
	if err != nil {
		return err
	}
	if refs > 0 {
		return filing.Conflictf(op, "阶段 %s 所属模板已被 %d 个流程引用，不能修改", want.ID, refs)
	}
	if err := tx.WithContext(ctx).Select("*").Updates(want).Error; err != nil {
		return filing.Internal(op, err)
	}
	res.Updated++
	return nil
}

// templateRefs 使用这些模板的流程实例数，已办结与已归档的也计入
func templateRefs(ctx context.Context, tx *gorm.DB, op string, templateIDs ...string) (int64, error) {
	var refs int64
	if err := tx.WithContext(ctx).Model(&filing.WorkflowInstance{}).
		Where("template_id IN ?", templateIDs).Count(&refs).Error; err != nil {
		return 0, filing.Internal(op, err)
	}
	return refs, nil
}
