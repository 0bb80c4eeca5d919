package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"efiling/internal/filing"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActorSpec 办理人目录条目
type ActorSpec struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Role   string `yaml:"role"`
	Email  string `yaml:"email"`
	Phone  string `yaml:"phone"`
	Zone   string `yaml:"zone"`
	Active *bool  `yaml:"active"`
}

// ParseActors 解析办理人目录
func ParseActors(data []byte) ([]filing.Actor, error) {
	const op = "catalog.ParseActors"
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc struct {
		Actors []ActorSpec `yaml:"actors"`
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, filing.Validationf(op, "解析办理人目录失败: %v", err)
	}

	seen := map[string]bool{}
	actors := make([]filing.Actor, 0, len(doc.Actors))
	for i, a := range doc.Actors {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return nil, filing.Validationf(op, "第 %d 个办理人缺少 id", i+1)
		}
		if seen[id] {
			return nil, filing.Conflictf(op, "办理人 %s 重复", id)
		}
		seen[id] = true
		role, err := filing.ParseRole(a.Role)
		if err != nil {
			return nil, filing.Validationf(op, "办理人 %s: %v", id, err)
		}
		active := true
		if a.Active != nil {
			active = *a.Active
		}
		name := a.Name
		if name == "" {
			name = id
		}
		actors = append(actors, filing.Actor{
			ID:     id,
			Name:   name,
			Role:   role,
			Email:  a.Email,
			Phone:  a.Phone,
			Zone:   a.Zone,
			Active: active,
		})
	}
	return actors, nil
}

// LoadActorsFile 读取办理人目录文件
func LoadActorsFile(path string) ([]filing.Actor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取办理人目录 %s 失败: %w", path, err)
	}
	return ParseActors(data)
}

// SyncActors 按 id 写入或覆盖办理人
func SyncActors(ctx context.Context, db *gorm.DB, actors []filing.Actor) (int, error) {
	if len(actors) == 0 {
		return 0, nil
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "role", "email", "phone", "zone", "active", "updated_at"}),
	}).Create(&actors).Error
	if err != nil {
		return 0, filing.Internal("catalog.SyncActors", err)
	}
	return len(actors), nil
}
