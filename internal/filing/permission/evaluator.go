// Package permission 计算 (文件, 办理人) 的能力集合，纯函数，无副作用
package permission

import (
	"efiling/internal/filing"
)

// Input 权限计算输入
type Input struct {
	Role             filing.Role
	HasAccess        bool // 由外部访问控制决定
	IsCreator        bool
	IsAssigned       bool // 直接分配或最近一条流转记录的接收人
	HasSigned        bool // 当前阶段已签名
	CreatorHasSigned bool
}

// Set 能力集合
type Set struct {
	CanView           bool `json:"can_view"`
	CanEdit           bool `json:"can_edit"`
	CanAddSignature   bool `json:"can_add_signature"`
	CanAddComment     bool `json:"can_add_comment"`
	CanAddAttachment  bool `json:"can_add_attachment"`
	CanMarkTo         bool `json:"can_mark_to"`
	CanApprove        bool `json:"can_approve"`
	CanReject         bool `json:"can_reject"`
	CanForward        bool `json:"can_forward"`
	RequiresSignature bool `json:"requires_signature"`
	IsAssigned        bool `json:"is_assigned"`
	HasSigned         bool `json:"has_signed"`
	CreatorSigned     bool `json:"creator_signed"`
}

// Evaluate 计算能力集合
func Evaluate(in Input) Set {
	if !in.HasAccess {
		return Set{}
	}
	super := filing.IsSuperuser(in.Role)
	assignedAndSigned := in.IsAssigned && in.HasSigned

	return Set{
		CanView:           true,
		CanEdit:           super || in.IsCreator,
		CanAddSignature:   true,
		CanAddComment:     true,
		CanAddAttachment:  true,
		CanMarkTo:         (in.IsCreator && in.HasSigned) || super,
		CanApprove:        assignedAndSigned,
		CanReject:         assignedAndSigned,
		CanForward:        assignedAndSigned || super,
		RequiresSignature: in.IsCreator && !in.HasSigned,
		IsAssigned:        in.IsAssigned,
		HasSigned:         in.HasSigned,
		CreatorSigned:     in.CreatorHasSigned,
	}
}

// Authorize 校验动作是否被允许，拒绝时返回带原因的 Forbidden
func Authorize(in Input, action filing.Action) error {
	const op = "permission.Authorize"
	set := Evaluate(in)
	if !set.CanView {
		return filing.Forbidden(op, filing.ReasonNoAccess)
	}

	var allowed bool
	switch action {
	case filing.ActionApprove:
		allowed = set.CanApprove
	case filing.ActionReject, filing.ActionReturn:
		allowed = set.CanReject
	case filing.ActionForward:
		allowed = set.CanForward
	case filing.ActionMarkTo:
		allowed = set.CanMarkTo
	case filing.ActionSign:
		allowed = set.CanAddSignature
	case filing.ActionReactivate:
		if !set.CanEdit {
			return filing.Forbidden(op, filing.ReasonNotCreator)
		}
		return nil
	case filing.ActionArchive:
		if !filing.IsSuperuser(in.Role) {
			return filing.Forbidden(op, filing.ReasonNotSuperuser)
		}
		return nil
	default:
		return filing.Validationf(op, "动作 %s 不在权限判定范围内", action)
	}
	if allowed {
		return nil
	}
	return filing.Forbidden(op, missing(in, action))
}

// missing 缺失能力的描述
func missing(in Input, action filing.Action) string {
	if action == filing.ActionMarkTo {
		if !in.IsCreator {
			return filing.ReasonNotCreator
		}
		return filing.ReasonSignatureRequired
	}
	if !in.IsAssigned {
		return filing.ReasonNotAssigned
	}
	return filing.ReasonSignatureRequired
}
