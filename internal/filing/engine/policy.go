package engine

import (
	"fmt"
	"strings"

	"efiling/internal/filing"

	"github.com/Knetic/govaluate"
)

// RejectRemarksPolicy 常用策略：退回与驳回必须填写意见，经 filing.remarks_policy 启用
const RejectRemarksPolicy = `action == "REJECT" || action == "RETURN"`

// RemarksPolicy 意见必填策略
//
// 表达式可用变量：action、role、stage_order、is_last_stage、is_superuser。
type RemarksPolicy struct {
	source     string
	expression *govaluate.EvaluableExpression
}

// NewRemarksPolicy 解析策略表达式，空串表示从不要求
func NewRemarksPolicy(source string) (*RemarksPolicy, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return &RemarksPolicy{}, nil
	}
	expression, err := govaluate.NewEvaluableExpression(source)
	if err != nil {
		return nil, fmt.Errorf("解析意见策略失败: %w", err)
	}
	return &RemarksPolicy{source: source, expression: expression}, nil
}

// MustRemarksPolicy 解析失败时 panic，用于常量表达式
func MustRemarksPolicy(source string) *RemarksPolicy {
	p, err := NewRemarksPolicy(source)
	if err != nil {
		panic(err)
	}
	return p
}

// String 原始表达式
func (p *RemarksPolicy) String() string { return p.source }

// Requires 判断该次推进是否必须填写意见
func (p *RemarksPolicy) Requires(action filing.Action, role filing.Role, stage *filing.Stage, isLast bool) (bool, error) {
	if p == nil || p.expression == nil {
		return false, nil
	}
	order := 0
	if stage != nil {
		order = stage.Order
	}
	result, err := p.expression.Evaluate(map[string]interface{}{
		"action":        string(action),
		"role":          string(role),
		"stage_order":   float64(order),
		"is_last_stage": isLast,
		"is_superuser":  filing.IsSuperuser(role),
	})
	if err != nil {
		return false, fmt.Errorf("执行意见策略失败: %w", err)
	}
	required, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("意见策略必须返回布尔值，实际为 %T", result)
	}
	return required, nil
}

// check 需要意见而未填写时返回 Validation
func (p *RemarksPolicy) check(op string, action filing.Action, role filing.Role, stage *filing.Stage, isLast bool, remarks string) error {
	required, err := p.Requires(action, role, stage, isLast)
	if err != nil {
		return filing.Internal(op, err)
	}
	if required && strings.TrimSpace(remarks) == "" {
		return filing.Validationf(op, "动作 %s 需要填写意见", action)
	}
	return nil
}
