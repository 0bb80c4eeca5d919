package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efiling_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "efiling_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 文件流转指标
var (
	// TransitionsTotal 流转动作次数
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efiling_transitions_total",
			Help: "文件流转动作次数",
		},
		[]string{"action", "result"}, // result: ok, forbidden, conflict, validation, not_found, error
	)

	// TransitionDuration 流转事务耗时（秒）
	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "efiling_transition_duration_seconds",
			Help:    "流转事务耗时分布",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"action"},
	)

	// WorkflowsCompletedTotal 完结流程数
	WorkflowsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efiling_workflows_completed_total",
			Help: "完结的流程数量",
		},
		[]string{"via"}, // via: sequence, executive
	)
)

// SLA 指标
var (
	// SLAPausesTotal 计时暂停次数
	SLAPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "efiling_sla_pauses_total",
			Help: "SLA 计时暂停次数",
		},
	)

	// SLAResumesTotal 计时恢复次数
	SLAResumesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "efiling_sla_resumes_total",
			Help: "SLA 计时恢复次数",
		},
	)

	// SLAPauseDurationHours 单次暂停时长（小时）
	SLAPauseDurationHours = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "efiling_sla_pause_duration_hours",
			Help:    "高层审阅暂停时长分布",
			Buckets: []float64{0.5, 1, 4, 8, 24, 48, 96, 168},
		},
	)

	// SLAWarningsTotal 预警通知次数
	SLAWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efiling_sla_warnings_total",
			Help: "SLA 预警通知次数",
		},
		[]string{"kind", "status"}, // status: sent, duplicate, failed
	)

	// SLAScanDuration 预警扫描耗时（秒）
	SLAScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "efiling_sla_scan_duration_seconds",
			Help:    "预警扫描耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)
)

// 通知指标
var (
	// NotificationsTotal 通知投递次数
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "efiling_notifications_total",
			Help: "通知投递次数",
		},
		[]string{"channel", "status"},
	)
)
