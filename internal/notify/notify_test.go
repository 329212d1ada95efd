package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeSender struct {
	failures int
	calls    int
	last     *gomail.Message
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.calls++
	f.last = m[0]
	if f.calls <= f.failures {
		return errors.New("smtp unavailable")
	}
	return nil
}

func newTestEmail(t *testing.T, sender *fakeSender, cfg EmailConfig) *EmailNotifier {
	t.Helper()
	cfg.Host = "smtp.example.com"
	cfg.From = "backup@example.com"
	cfg.To = []string{"ops@example.com"}
	cfg.RetryInterval = time.Millisecond
	n, err := NewEmailNotifier(cfg, nil)
	require.NoError(t, err)
	n.sender = sender
	return n
}

func TestEmailRetriesUntilDelivered(t *testing.T) {
	sender := &fakeSender{failures: 2}
	n := newTestEmail(t, sender, EmailConfig{MaxRetries: 3})

	err := n.SendBackupNotification(context.Background(), 9, EventFailure, BackupContext{ScheduleName: "nightly", Error: "exit 1"})
	require.NoError(t, err)
	assert.Equal(t, 3, sender.calls)
	assert.Equal(t, []string{"[fast-backup] nightly failure"}, sender.last.GetHeader("Subject"))
}

func TestEmailGivesUpAfterMaxRetries(t *testing.T) {
	sender := &fakeSender{failures: 10}
	n := newTestEmail(t, sender, EmailConfig{MaxRetries: 1})

	err := n.SendBackupNotification(context.Background(), 9, EventWarning, BackupContext{})
	require.Error(t, err)
	assert.Equal(t, 2, sender.calls)
}

func TestEmailFiltersEvents(t *testing.T) {
	sender := &fakeSender{}
	n := newTestEmail(t, sender, EmailConfig{})

	require.NoError(t, n.SendBackupNotification(context.Background(), 1, EventStart, BackupContext{}))
	require.NoError(t, n.SendBackupNotification(context.Background(), 1, EventSuccess, BackupContext{}))
	assert.Equal(t, 0, sender.calls)

	n.cfg.Events = []string{"success"}
	require.NoError(t, n.SendBackupNotification(context.Background(), 1, EventSuccess, BackupContext{}))
	assert.Equal(t, 1, sender.calls)
}

func TestEmailRequiresRecipients(t *testing.T) {
	_, err := NewEmailNotifier(EmailConfig{Host: "smtp"}, nil)
	assert.Error(t, err)
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) SendBackupNotification(context.Context, int64, BackupEvent, BackupContext) error {
	c.calls++
	return c.err
}

func TestMultiDeliversToAll(t *testing.T) {
	a := &countingNotifier{err: errors.New("a down")}
	b := &countingNotifier{}
	err := Multi{a, b, Nop{}}.SendBackupNotification(context.Background(), 1, EventSuccess, BackupContext{})
	assert.EqualError(t, err, "a down")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestEventForStatus(t *testing.T) {
	assert.Equal(t, EventSuccess, EventForStatus(domain.BackupStatusSuccess))
	assert.Equal(t, EventWarning, EventForStatus(domain.BackupStatusWarning))
	assert.Equal(t, EventFailure, EventForStatus(domain.BackupStatusError))
}
