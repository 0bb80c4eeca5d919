package common

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope 类型化查询条件，可与 db.Scopes 组合使用
// 条件通过 gorm clause 表达式构造，不拼接 SQL 字符串
type Scope func(db *gorm.DB) *gorm.DB

// Column 列名，只能由调用方以常量声明
type Column string

func (c Column) clause() clause.Column {
	return clause.Column{Name: string(c)}
}

// Apply 依次应用查询条件
func Apply(db *gorm.DB, scopes ...Scope) *gorm.DB {
	for _, s := range scopes {
		if s != nil {
			db = s(db)
		}
	}
	return db
}

// All 合并多个条件
func All(scopes ...Scope) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return Apply(db, scopes...)
	}
}

// When 条件成立时才应用
func When(cond bool, s Scope) Scope {
	if !cond {
		return nil
	}
	return s
}

// Eq 等值过滤，value 为 nil 时生成 IS NULL
func Eq(col Column, value any) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Eq{Column: col.clause(), Value: value})
	}
}

// Neq 不等过滤
func Neq(col Column, value any) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Neq{Column: col.clause(), Value: value})
	}
}

// EqIfSet 值非空时等值过滤
func EqIfSet(col Column, value string) Scope {
	return When(value != "", Eq(col, value))
}

// In 集合过滤
func In[T any](col Column, values ...T) Scope {
	vals := make([]any, 0, len(values))
	for _, v := range values {
		vals = append(vals, v)
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.IN{Column: col.clause(), Values: vals})
	}
}

// Before 时间早于 t
func Before(col Column, t time.Time) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Lt{Column: col.clause(), Value: t})
	}
}

// NotAfter 时间不晚于 t
func NotAfter(col Column, t time.Time) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Lte{Column: col.clause(), Value: t})
	}
}

// NotBefore 时间不早于 t
func NotBefore(col Column, t time.Time) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Gte{Column: col.clause(), Value: t})
	}
}

// NotNull 非空
func NotNull(col Column) Scope {
	return Neq(col, nil)
}

// OrderBy 排序
func OrderBy(col Column, desc bool) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(clause.OrderByColumn{Column: col.clause(), Desc: desc})
	}
}

// Paginate 分页
func Paginate(req PaginationRequest) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(req.GetOffset()).Limit(req.GetPageSize())
	}
}
