package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"sync"
	"time"

	"efiling/internal/metrics"
)

// 通知渠道
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Notifier 通知器接口
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
}

// Notification 通知消息
type Notification struct {
	Type    string         `json:"type"`    // email, webhook
	To      string         `json:"to"`      // 接收者（邮箱/URL），webhook 为空时使用默认地址
	Subject string         `json:"subject"` // 主题
	Body    string         `json:"body"`    // 内容
	Data    map[string]any `json:"data,omitempty"`
}

// MultiNotifier 多通道通知器
type MultiNotifier struct {
	mu       sync.RWMutex
	channels map[string]Notifier
}

// NewMultiNotifier 创建多通道通知器，未配置的渠道传 nil
func NewMultiNotifier(emailConfig *EmailConfig, webhookConfig *WebhookConfig) *MultiNotifier {
	m := &MultiNotifier{channels: make(map[string]Notifier)}
	if emailConfig != nil {
		m.Register(ChannelEmail, NewEmailNotifier(emailConfig))
	}
	if webhookConfig != nil {
		m.Register(ChannelWebhook, NewWebhookNotifier(webhookConfig))
	}
	return m
}

// Register 注册或替换渠道
func (m *MultiNotifier) Register(channel string, n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel] = n
}

// Send 发送通知
func (m *MultiNotifier) Send(ctx context.Context, notification *Notification) error {
	m.mu.RLock()
	notifier, ok := m.channels[notification.Type]
	m.mu.RUnlock()
	if !ok || notifier == nil {
		metrics.NotificationsTotal.WithLabelValues(notification.Type, "unsupported").Inc()
		return fmt.Errorf("通知器未配置: %s", notification.Type)
	}

	if err := notifier.Send(ctx, notification); err != nil {
		metrics.NotificationsTotal.WithLabelValues(notification.Type, "failed").Inc()
		return err
	}
	metrics.NotificationsTotal.WithLabelValues(notification.Type, "sent").Inc()
	return nil
}

// EmailConfig 邮件配置
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	FromName string
}

// EmailNotifier 邮件通知器
type EmailNotifier struct {
	config *EmailConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier 创建邮件通知器
func NewEmailNotifier(config *EmailConfig) *EmailNotifier {
	return &EmailNotifier{config: config, send: smtp.SendMail}
}

// Send 发送邮件
func (e *EmailNotifier) Send(ctx context.Context, notification *Notification) error {
	if e.config == nil || e.config.SMTPHost == "" {
		return fmt.Errorf("邮件未配置")
	}
	if notification.To == "" {
		return fmt.Errorf("邮件接收人为空")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	message := fmt.Sprintf(
		"From: %s <%s>\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		e.config.FromName,
		e.config.From,
		notification.To,
		notification.Subject,
		notification.Body,
	)

	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)
	if err := e.send(addr, auth, e.config.From, []string{notification.To}, []byte(message)); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}
	return nil
}

// WebhookConfig Webhook 配置
type WebhookConfig struct {
	DefaultURL string
	Secret     string // 非空时对请求体做 HMAC-SHA256 签名
	Timeout    time.Duration
	Headers    map[string]string
}

// SignatureHeader Webhook 签名请求头
const SignatureHeader = "X-EFiling-Signature"

// WebhookNotifier Webhook 通知器
type WebhookNotifier struct {
	config *WebhookConfig
	client *http.Client
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(config *WebhookConfig) *WebhookNotifier {
	if config == nil {
		config = &WebhookConfig{}
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &WebhookNotifier{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Send 发送 Webhook
func (w *WebhookNotifier) Send(ctx context.Context, notification *Notification) error {
	url := notification.To
	if url == "" {
		url = w.config.DefaultURL
	}
	if url == "" {
		return fmt.Errorf("Webhook URL 未配置")
	}

	payloadBytes, err := json.Marshal(map[string]any{
		"subject":   notification.Subject,
		"body":      notification.Body,
		"data":      notification.Data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("序列化 Webhook 负载失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("创建 Webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "efiling-notifier/1.0")
	if w.config.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.config.Secret, payloadBytes))
	}
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 Webhook 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态: %d", resp.StatusCode)
	}
	return nil
}

// Sign 计算 Webhook 签名
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// NotifierFunc 函数适配器
type NotifierFunc func(ctx context.Context, notification *Notification) error

// Send 实现 Notifier
func (f NotifierFunc) Send(ctx context.Context, notification *Notification) error {
	return f(ctx, notification)
}
