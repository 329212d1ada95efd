package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/domain"
	"github.com/haierkeys/fast-backup-service/pkg/code"

	"github.com/bytedance/sonic"
	"github.com/juju/ratelimit"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ResticConfig restic CLI 配置
type ResticConfig struct {
	// Binary path or name of the restic executable
	Binary string
	// CacheDir restic --cache-dir, empty keeps restic's default
	CacheDir string
	// RetryLock restic --retry-lock duration, e.g. "2m"
	RetryLock string
	// ProgressInterval minimum gap between two progress callbacks
	ProgressInterval time.Duration
	// KillGrace time between SIGINT and SIGKILL once the context is cancelled
	KillGrace time.Duration
}

const stderrTailSize = 4096

var envKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Restic drives the restic command line tool
// Restic restic 命令行适配器
type Restic struct {
	cfg    ResticConfig
	logger *zap.Logger
}

// NewRestic 创建 restic 适配器
func NewRestic(cfg ResticConfig, logger *zap.Logger) *Restic {
	if cfg.Binary == "" {
		cfg.Binary = "restic"
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Restic{cfg: cfg, logger: logger}
}

// repoEnv maps an opaque repository config onto restic environment variables.
// prefix is "RESTIC_" for the target and "RESTIC_FROM_" for a copy source.
func repoEnv(repo *domain.Repository, prefix string) ([]string, error) {
	if repo == nil {
		return nil, code.ErrorRepositoryNotFound
	}
	location := strings.TrimSpace(repo.Config["repository"])
	if location == "" {
		return nil, code.ErrorRepositoryConfig.WithDetails("repository location is empty", repo.Name)
	}
	env := []string{prefix + "REPOSITORY=" + location}
	if pw := repo.Config["password"]; pw != "" {
		env = append(env, prefix+"PASSWORD="+pw)
	}
	if pf := repo.Config["password-file"]; pf != "" {
		env = append(env, prefix+"PASSWORD_FILE="+pf)
	}

	// backend credentials, e.g. AWS_ACCESS_KEY_ID, are passed through verbatim
	keys := make([]string, 0, len(repo.Config))
	for k := range repo.Config {
		if envKeyPattern.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+repo.Config[k])
	}
	return env, nil
}

// credentialClashes lists passthrough variables both repositories set to different values
func credentialClashes(src, dst *domain.Repository) []string {
	var clash []string
	for k, v := range src.Config {
		if !envKeyPattern.MatchString(k) {
			continue
		}
		if dv, ok := dst.Config[k]; ok && dv != v {
			clash = append(clash, k)
		}
	}
	sort.Strings(clash)
	return clash
}

func (r *Restic) globalArgs() []string {
	var args []string
	if r.cfg.CacheDir != "" {
		args = append(args, "--cache-dir", r.cfg.CacheDir)
	}
	if r.cfg.RetryLock != "" {
		args = append(args, "--retry-lock", r.cfg.RetryLock)
	}
	return args
}

type runResult struct {
	exitCode int
	stderr   string
}

// run executes restic and feeds every stdout line to onLine.
// Exit codes are reported in the result; err is set only when the process
// could not run to completion or ctx was cancelled.
func (r *Restic) run(ctx context.Context, dir string, env []string, args []string, onLine func([]byte)) (runResult, error) {
	cmd := exec.CommandContext(ctx, r.cfg.Binary, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Dir = dir
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = r.cfg.KillGrace

	tail := newTailBuffer(stderrTailSize)
	cmd.Stderr = tail
	lines := &lineWriter{onLine: onLine}
	cmd.Stdout = lines

	r.logger.Debug("restic exec", zap.Strings("args", args), zap.String("dir", dir))
	if err := cmd.Start(); err != nil {
		return runResult{exitCode: -1}, errors.Wrapf(err, "start %s", r.cfg.Binary)
	}

	waitErr := cmd.Wait()
	lines.flush()
	res := runResult{stderr: tail.String()}
	if ctx.Err() != nil {
		res.exitCode = -1
		return res, ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.exitCode = exitErr.ExitCode()
			return res, nil
		}
		res.exitCode = -1
		return res, errors.Wrap(waitErr, "wait restic")
	}
	return res, nil
}

func engineError(command string, res runResult) error {
	return &code.EngineError{Command: "restic " + command, ExitCode: res.exitCode, Stderr: res.stderr}
}

type messageHeader struct {
	MessageType string `json:"message_type"`
}

type errorMessage struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	During string `json:"during"`
	Item   string `json:"item"`
}

// Backup 执行备份
func (r *Restic) Backup(ctx context.Context, repo *domain.Repository, opts BackupOptions) (*BackupResult, error) {
	env, err := repoEnv(repo, "RESTIC_")
	if err != nil {
		return nil, err
	}

	args := append(r.globalArgs(), "backup", "--json")
	for _, t := range opts.Tags {
		args = append(args, "--tag", t)
	}
	if opts.OneFileSystem {
		args = append(args, "--one-file-system")
	}
	if opts.Compression != "" {
		args = append(args, "--compression", opts.Compression)
	}
	for _, p := range opts.Exclude {
		args = append(args, "--exclude", p)
	}
	if len(opts.Include) > 0 {
		listFile, err := writePatternFile(opts.Include)
		if err != nil {
			return nil, err
		}
		defer os.Remove(listFile)
		args = append(args, "--files-from", listFile)
	} else {
		args = append(args, opts.SourcePath)
	}

	bucket := ratelimit.NewBucketWithQuantum(r.cfg.ProgressInterval, 1, 1)
	result := &BackupResult{}
	start := time.Now()

	res, err := r.run(ctx, opts.SourcePath, env, args, func(line []byte) {
		var h messageHeader
		if sonic.Unmarshal(line, &h) != nil {
			return
		}
		switch h.MessageType {
		case "status":
			if opts.OnProgress == nil || bucket.TakeAvailable(1) == 0 {
				return
			}
			var p Progress
			if sonic.Unmarshal(line, &p) == nil {
				opts.OnProgress(p)
			}
		case "summary":
			var s BackupSummary
			if sonic.Unmarshal(line, &s) == nil {
				result.Summary = &s
			}
		case "error":
			var e errorMessage
			if sonic.Unmarshal(line, &e) == nil {
				r.logger.Warn("restic backup item error",
					zap.String("item", e.Item),
					zap.String("during", e.During),
					zap.String("error", e.Error.Message))
			}
		}
	})
	result.Duration = time.Since(start)
	result.ExitCode = res.exitCode
	result.Stderr = res.stderr
	return result, err
}

func writePatternFile(patterns []string) (string, error) {
	f, err := os.CreateTemp("", "restic-files-from-*.txt")
	if err != nil {
		return "", errors.Wrap(err, "create files-from list")
	}
	defer f.Close()
	if _, err := f.WriteString(strings.Join(patterns, "\n") + "\n"); err != nil {
		os.Remove(f.Name())
		return "", errors.Wrap(err, "write files-from list")
	}
	return f.Name(), nil
}

func retentionArgs(p *domain.RetentionPolicy) []string {
	var args []string
	add := func(flag string, n int) {
		if n > 0 {
			args = append(args, flag, strconv.Itoa(n))
		}
	}
	add("--keep-last", p.KeepLast)
	add("--keep-hourly", p.KeepHourly)
	add("--keep-daily", p.KeepDaily)
	add("--keep-weekly", p.KeepWeekly)
	add("--keep-monthly", p.KeepMonthly)
	add("--keep-yearly", p.KeepYearly)
	if w := strings.TrimSpace(p.KeepWithin); w != "" {
		args = append(args, "--keep-within", w)
	}
	return args
}

type forgetGroup struct {
	Keep   []Snapshot `json:"keep"`
	Remove []Snapshot `json:"remove"`
}

// Forget 按保留策略清理快照
func (r *Restic) Forget(ctx context.Context, repo *domain.Repository, policy *domain.RetentionPolicy, opts ForgetOptions) (*ForgetResult, error) {
	if policy.IsEmpty() {
		return nil, code.ErrorRetentionPolicyEmpty
	}
	env, err := repoEnv(repo, "RESTIC_")
	if err != nil {
		return nil, err
	}

	args := append(r.globalArgs(), "forget", "--json")
	if opts.Tag != "" {
		args = append(args, "--tag", opts.Tag)
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	} else if opts.Prune {
		args = append(args, "--prune")
	}
	args = append(args, retentionArgs(policy)...)

	out := &ForgetResult{}
	res, err := r.run(ctx, "", env, args, func(line []byte) {
		if !bytes.HasPrefix(bytes.TrimSpace(line), []byte("[")) {
			return
		}
		var groups []forgetGroup
		if sonic.Unmarshal(line, &groups) != nil {
			return
		}
		for _, g := range groups {
			out.Kept += len(g.Keep)
			out.Removed += len(g.Remove)
		}
	})
	if err != nil {
		return nil, err
	}
	if res.exitCode != 0 {
		return nil, engineError("forget", res)
	}
	return out, nil
}

// Copy 复制快照到目标仓库
func (r *Restic) Copy(ctx context.Context, src, dst *domain.Repository, opts CopyOptions) error {
	dstEnv, err := repoEnv(dst, "RESTIC_")
	if err != nil {
		return err
	}
	srcEnv, err := repoEnv(src, "RESTIC_FROM_")
	if err != nil {
		return err
	}
	// restic has a single process environment, so both backends must agree on shared variables
	if clash := credentialClashes(src, dst); len(clash) > 0 {
		r.logger.Warn("Copy rejected, backend credentials clash",
			zap.String("source", src.Name),
			zap.String("destination", dst.Name),
			zap.Strings("variables", clash))
		return code.ErrorRepositoryConfig.WithDetails(
			fmt.Sprintf("source %q and destination %q set different values for %s", src.Name, dst.Name, strings.Join(clash, ", ")))
	}
	args := append(r.globalArgs(), "copy")
	if opts.Tag != "" {
		args = append(args, "--tag", opts.Tag)
	}
	res, err := r.run(ctx, "", append(srcEnv, dstEnv...), args, nil)
	if err != nil {
		return err
	}
	if res.exitCode != 0 {
		return engineError("copy", res)
	}
	return nil
}

// Check 检查仓库完整性
func (r *Restic) Check(ctx context.Context, repo *domain.Repository) (*CheckResult, error) {
	env, err := repoEnv(repo, "RESTIC_")
	if err != nil {
		return nil, err
	}
	var output bytes.Buffer
	start := time.Now()
	res, err := r.run(ctx, "", env, append(r.globalArgs(), "check"), func(line []byte) {
		if output.Len() < stderrTailSize {
			output.Write(line)
			output.WriteByte('\n')
		}
	})
	if err != nil {
		return nil, err
	}
	if res.exitCode != 0 {
		return nil, engineError("check", res)
	}
	return &CheckResult{Output: output.String(), Duration: time.Since(start)}, nil
}

// Snapshots 列出快照
func (r *Restic) Snapshots(ctx context.Context, repo *domain.Repository, tag string) ([]Snapshot, error) {
	env, err := repoEnv(repo, "RESTIC_")
	if err != nil {
		return nil, err
	}
	args := append(r.globalArgs(), "snapshots", "--json")
	if tag != "" {
		args = append(args, "--tag", tag)
	}
	var raw bytes.Buffer
	res, err := r.run(ctx, "", env, args, func(line []byte) {
		raw.Write(line)
	})
	if err != nil {
		return nil, err
	}
	if res.exitCode != 0 {
		return nil, engineError("snapshots", res)
	}
	snapshots := []Snapshot{}
	if trimmed := bytes.TrimSpace(raw.Bytes()); len(trimmed) > 0 {
		if err := sonic.Unmarshal(trimmed, &snapshots); err != nil {
			return nil, errors.Wrap(err, "decode restic snapshots")
		}
	}
	return snapshots, nil
}

// Unlock 移除仓库中的陈旧锁
func (r *Restic) Unlock(ctx context.Context, repo *domain.Repository) error {
	env, err := repoEnv(repo, "RESTIC_")
	if err != nil {
		return err
	}
	res, err := r.run(ctx, "", env, append(r.globalArgs(), "unlock"), nil)
	if err != nil {
		return err
	}
	if res.exitCode != 0 {
		return engineError("unlock", res)
	}
	return nil
}

// lineWriter splits process output into lines
type lineWriter struct {
	onLine  func([]byte)
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		if w.onLine != nil {
			w.onLine(append([]byte(nil), w.pending[:i]...))
		}
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.pending) > 0 && w.onLine != nil {
		w.onLine(w.pending)
	}
	w.pending = nil
}

// tailBuffer keeps the last n bytes written
type tailBuffer struct {
	n   int
	buf []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}

var _ Engine = (*Restic)(nil)
