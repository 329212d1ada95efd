package code

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDetailsDoesNotMutateRegisteredCode(t *testing.T) {
	c := ErrorScheduleNotFound.WithDetails("id=7")

	assert.Empty(t, ErrorScheduleNotFound.Details())
	assert.Equal(t, []string{"id=7"}, c.Details())
	assert.Equal(t, "Backup schedule not found: id=7", c.Error())
}

func TestErrorsIsMatchesClones(t *testing.T) {
	err := fmt.Errorf("load: %w", ErrorBackupNotRunning.WithDetails("schedule 3"))

	assert.True(t, errors.Is(err, ErrorBackupNotRunning))
	assert.False(t, errors.Is(err, ErrorScheduleNotFound))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"not found", ErrorRepositoryNotFound, KindNotFound},
		{"wrapped conflict", fmt.Errorf("stop: %w", ErrorBackupNotRunning), KindConflict},
		{"engine", &EngineError{Command: "backup", ExitCode: 1}, KindEngine},
		{"aborted", ErrorBackupStopped, KindAborted},
		{"invalid state", ErrorNoRetentionPolicy, KindInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestEngineErrorMessage(t *testing.T) {
	err := &EngineError{Command: "restic backup", ExitCode: 1, Stderr: "  Fatal: unable to open repository\n"}
	assert.Equal(t, "restic backup failed with exit code 1: Fatal: unable to open repository", err.Error())
	assert.True(t, IsEngine(err))
}

func TestStoredMessageIgnoresActiveLanguage(t *testing.T) {
	require.NoError(t, SetGlobalDefaultLang("zh_cn"))
	t.Cleanup(func() { _ = SetGlobalDefaultLang("en") })

	assert.Equal(t, "备份已被用户停止", ErrorBackupStopped.Error())
	assert.Equal(t, "Backup was stopped by user", StoredMessage(ErrorBackupStopped))
	assert.Equal(t, "Volume is not mounted: data", StoredMessage(ErrorVolumeNotMounted.WithDetails("data")))
	assert.Equal(t, "boom", StoredMessage(errors.New("boom")))
	assert.Empty(t, StoredMessage(nil))
}
