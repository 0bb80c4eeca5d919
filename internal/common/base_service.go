package common

import (
	"context"

	"gorm.io/gorm"
)

// BaseService 服务基类，封装通用的数据库操作方法
type BaseService struct {
	DB *gorm.DB
}

// NewBaseService 创建BaseService实例
func NewBaseService(db *gorm.DB) *BaseService {
	return &BaseService{DB: db}
}

// Transaction 执行事务
// 每个业务操作持有一个事务句柄，fn 返回错误或 panic 时整体回滚
func (s *BaseService) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Transaction(fn)
}

// FindByID 根据ID查询单条记录
func (s *BaseService) FindByID(ctx context.Context, model interface{}, id string) error {
	return s.DB.WithContext(ctx).Where("id = ?", id).First(model).Error
}

// Exists 检查记录是否存在
func (s *BaseService) Exists(ctx context.Context, model interface{}, scopes ...Scope) (bool, error) {
	var count int64
	err := Apply(s.DB.WithContext(ctx).Model(model), scopes...).Count(&count).Error
	return count > 0, err
}

// List 按条件分页查询
func (s *BaseService) List(ctx context.Context, out interface{}, model interface{}, page PaginationRequest, scopes ...Scope) (int64, error) {
	var total int64
	if err := Apply(s.DB.WithContext(ctx).Model(model), scopes...).Count(&total).Error; err != nil {
		return 0, err
	}
	query := Apply(s.DB.WithContext(ctx).Model(model), scopes...)
	if err := Apply(query, Paginate(page)).Find(out).Error; err != nil {
		return 0, err
	}
	return total, nil
}
