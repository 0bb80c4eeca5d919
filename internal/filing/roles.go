package filing

import (
	"fmt"
	"strings"
)

// Role 角色编码（封闭枚举）
type Role string

const (
	RoleSuperAdmin     Role = "SUPER_ADMIN"
	RoleAdmin          Role = "ADMIN"
	RoleCEO            Role = "CEO"
	RoleCOO            Role = "COO"
	RoleChiefEngineer  Role = "CHIEF_ENGINEER"
	RoleEngineer       Role = "ENGINEER"
	RoleSectionOfficer Role = "SECTION_OFFICER"
	RoleClerk          Role = "CLERK"
)

var knownRoles = map[Role]struct{}{
	RoleSuperAdmin:     {},
	RoleAdmin:          {},
	RoleCEO:            {},
	RoleCOO:            {},
	RoleChiefEngineer:  {},
	RoleEngineer:       {},
	RoleSectionOfficer: {},
	RoleClerk:          {},
}

// ParseRole 解析角色编码，忽略大小写与首尾空白
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	r = Role(strings.ReplaceAll(string(r), "-", "_"))
	if _, ok := knownRoles[r]; !ok {
		return "", Validationf("ParseRole", "未知角色: %q", s)
	}
	return r, nil
}

// Valid 是否为已知角色
func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// IsExecutiveReview 该角色持有文件期间 SLA 计时暂停
func IsExecutiveReview(r Role) bool {
	return r == RoleCEO
}

// IsSuperuser 系统管理员
func IsSuperuser(r Role) bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// Action 流转动作
type Action string

const (
	ActionSubmit     Action = "SUBMIT"
	ActionApprove    Action = "APPROVE"
	ActionForward    Action = "FORWARD"
	ActionReject     Action = "REJECT"
	ActionReturn     Action = "RETURN"
	ActionSign       Action = "SIGN"
	ActionMarkTo     Action = "MARK_TO"
	ActionComplete   Action = "COMPLETE"
	ActionReactivate Action = "REACTIVATE"
	ActionArchive    Action = "ARCHIVE"
)

var knownActions = map[Action]struct{}{
	ActionSubmit: {}, ActionApprove: {}, ActionForward: {}, ActionReject: {}, ActionReturn: {},
	ActionSign: {}, ActionMarkTo: {}, ActionComplete: {}, ActionReactivate: {}, ActionArchive: {},
}

// ParseAction 解析动作，MARK-TO 视为 MARK_TO
func ParseAction(s string) (Action, error) {
	a := Action(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	if _, ok := knownActions[a]; !ok {
		return "", Validationf("ParseAction", "未知动作: %q", s)
	}
	return a, nil
}

// IsForward 向后续阶段推进
func (a Action) IsForward() bool {
	return a == ActionApprove || a == ActionForward
}

// IsBackward 退回前序阶段
func (a Action) IsBackward() bool {
	return a == ActionReject || a == ActionReturn
}

// IsStageTransition 是否为阶段流转动作
func (a Action) IsStageTransition() bool {
	return a.IsForward() || a.IsBackward()
}

// FileStatus 文件状态
type FileStatus string

const (
	FileStatusPending   FileStatus = "PENDING"
	FileStatusReturned  FileStatus = "RETURNED"
	FileStatusRejected  FileStatus = "REJECTED"
	FileStatusCompleted FileStatus = "COMPLETED"
	FileStatusArchived  FileStatus = "ARCHIVED"
)

// WorkflowStatus 流程状态
type WorkflowStatus string

const (
	WorkflowInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowCompleted  WorkflowStatus = "COMPLETED"
	WorkflowArchived   WorkflowStatus = "ARCHIVED"
)

// String 便于日志输出
func (s WorkflowStatus) String() string { return string(s) }

// StatusAfter 动作完成后文件应处的状态
func StatusAfter(a Action, completed bool) (FileStatus, error) {
	switch {
	case completed:
		return FileStatusCompleted, nil
	case a.IsForward():
		return FileStatusPending, nil
	case a == ActionReturn:
		return FileStatusReturned, nil
	case a == ActionReject:
		return FileStatusRejected, nil
	}
	return "", fmt.Errorf("动作 %s 不改变文件状态", a)
}
