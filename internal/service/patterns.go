package service

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/haierkeys/fast-backup-service/pkg/code"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextBackupAt returns the first activation of expr strictly after from
// NextBackupAt 根据 cron 表达式计算下次执行时间
func NextBackupAt(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return time.Time{}, code.ErrorCronInvalid.WithDetails(expr, err.Error())
	}
	return schedule.Next(from), nil
}

// rerootPatterns anchors absolute include/exclude patterns under the volume mount path.
// Patterns already below the mount path and relative patterns are kept; the engine
// runs inside the mount path so relative patterns resolve against it.
func rerootPatterns(patterns []string, mountPath string) []string {
	if len(patterns) == 0 {
		return nil
	}
	mount := filepath.Clean(mountPath)
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, rerootPattern(p, mount))
	}
	return out
}

func rerootPattern(p, mount string) string {
	negate := ""
	if strings.HasPrefix(p, "!") {
		negate, p = "!", p[1:]
	}
	if !strings.HasPrefix(p, "/") {
		return negate + p
	}
	// cleaned before joining so ".." can never climb out of the mount
	cleaned := filepath.Clean(p)
	if underMount(cleaned, mount) {
		return negate + p
	}

	rooted := filepath.Join(mount, cleaned)
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(rooted, "/") {
		rooted += "/"
	}
	return negate + rooted
}

func underMount(p, mount string) bool {
	if mount == "/" {
		return true
	}
	return p == mount || strings.HasPrefix(p, mount+"/")
}
