package notify

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/haierkeys/fast-backup-service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// EmailConfig SMTP 通知配置
type EmailConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port" default:"587"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	From          string   `yaml:"from"`
	To            []string `yaml:"to"`
	SubjectPrefix string   `yaml:"subject-prefix" default:"[fast-backup]"`
	// Events which events are mailed; empty means warning and failure
	Events []string `yaml:"events"`
	// MaxRetries delivery attempts after the first failure
	MaxRetries int `yaml:"max-retries" default:"3"`
	// RetryInterval initial backoff between attempts
	RetryInterval time.Duration `yaml:"retry-interval" default:"2s"`
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier sends notifications over SMTP with bounded retries
// EmailNotifier 通过 SMTP 发送通知，失败时有限重试
type EmailNotifier struct {
	cfg    EmailConfig
	sender mailSender
	logger *zap.Logger
}

// NewEmailNotifier 创建邮件通知
func NewEmailNotifier(cfg EmailConfig, lg *zap.Logger) (*EmailNotifier, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("email notifier requires host, from and to")
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &EmailNotifier{
		cfg:    cfg,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: lg.Named("notify.email"),
	}, nil
}

func (n *EmailNotifier) wants(event BackupEvent) bool {
	if len(n.cfg.Events) == 0 {
		return event == EventWarning || event == EventFailure
	}
	return slices.Contains(n.cfg.Events, string(event))
}

func (n *EmailNotifier) SendBackupNotification(ctx context.Context, scheduleID int64, event BackupEvent, c BackupContext) error {
	if !n.wants(event) {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", n.cfg.To...)
	m.SetHeader("Subject", subject(n.cfg.SubjectPrefix, event, c))
	m.SetBody("text/plain", body(scheduleID, event, c))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.cfg.RetryInterval
	policy.MaxElapsedTime = 0
	retries := n.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return n.sender.DialAndSend(m)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx), func(err error, wait time.Duration) {
		n.logger.Warn("email delivery failed, retrying",
			zap.Int64(logger.FieldScheduleID, scheduleID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		return errors.Wrapf(err, "send %s notification for schedule %d", event, scheduleID)
	}
	return nil
}

func subject(prefix string, event BackupEvent, c BackupContext) string {
	name := c.ScheduleName
	if name == "" {
		name = "backup"
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s %s", prefix, name, event))
}

func body(scheduleID int64, event BackupEvent, c BackupContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Schedule:   %s (#%d)\n", c.ScheduleName, scheduleID)
	fmt.Fprintf(&b, "Event:      %s\n", event)
	if c.VolumeName != "" {
		fmt.Fprintf(&b, "Volume:     %s\n", c.VolumeName)
	}
	if c.RepositoryName != "" {
		fmt.Fprintf(&b, "Repository: %s\n", c.RepositoryName)
	}
	if c.Manual {
		b.WriteString("Trigger:    manual\n")
	}
	if c.Duration > 0 {
		fmt.Fprintf(&b, "Duration:   %s\n", c.Duration.Round(time.Second))
	}
	if c.Summary != nil {
		fmt.Fprintf(&b, "Snapshot:   %s\n", c.Summary.SnapshotID)
		fmt.Fprintf(&b, "Files:      %d new, %d changed, %d unmodified\n", c.Summary.FilesNew, c.Summary.FilesChanged, c.Summary.FilesUnmodified)
		fmt.Fprintf(&b, "Added:      %d bytes\n", c.Summary.DataAdded)
	}
	if c.Error != "" {
		fmt.Fprintf(&b, "Error:      %s\n", c.Error)
	}
	return b.String()
}

var _ Notifier = (*EmailNotifier)(nil)
