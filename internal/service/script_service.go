package service

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/marches-api/internal/models"
	appErrors "github.com/noah-isme/marches-api/pkg/errors"
	"github.com/noah-isme/marches-api/pkg/lock"
)

type scriptLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*lock.Handle, error)
	Release(ctx context.Context, h *lock.Handle) error
}

type tenderImporter interface {
	Import(ctx context.Context, src models.ImportSource, actor *models.Actor) (*models.ImportReport, error)
}

type scriptProcess interface {
	Pid() int
	Wait() error
}

type processStarter func(interpreter, script, dir string) (scriptProcess, error)

// ScriptConfig locates the scraping scripts and their output.
type ScriptConfig struct {
	Dir          string
	Interpreter  string
	Allowed      []string
	DataDir      string
	LockTTL      time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// ScriptService launches the scraping scripts, one run per script at a time.
type ScriptService struct {
	cfg      ScriptConfig
	locker   scriptLocker
	importer tenderImporter
	metrics  *MetricsService
	audit    auditLogger
	logger   *zap.Logger
	start    processStarter
	now      func() time.Time
}

// NewScriptService constructs a ScriptService.
func NewScriptService(cfg ScriptConfig, locker scriptLocker, importer tenderImporter, metrics *MetricsService, audit auditLogger, logger *zap.Logger) *ScriptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &ScriptService{
		cfg:      cfg,
		locker:   locker,
		importer: importer,
		metrics:  metrics,
		audit:    audit,
		logger:   logger,
		start:    startDetached,
		now:      time.Now,
	}
}

// Launch starts scriptID. With wait set it blocks until fresh output shows up
// in the data directory and imports it, or until the wait timeout elapses.
func (s *ScriptService) Launch(ctx context.Context, scriptID string, wait bool, actor *models.Actor) (*models.ScriptLaunch, error) {
	if actor != nil && !actor.Can(models.CapImport) {
		return nil, appErrors.ErrForbidden
	}
	if !s.allowed(scriptID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown script")
	}
	script := filepath.Join(s.cfg.Dir, scriptID+".py")
	if _, err := os.Stat(script); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "script file not found")
	}

	handle, err := s.locker.Acquire(ctx, "script_lock:"+scriptID, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.metrics.RecordScriptLaunch(scriptID, "running")
			return nil, appErrors.ErrScriptRunning
		}
		// advisory lock, launch without it
		s.logger.Warn("script lock unavailable, launching unlocked", zap.String("script", scriptID), zap.Error(err))
		handle = nil
	}

	startedAt := s.now()
	proc, err := s.start(s.cfg.Interpreter, script, s.cfg.Dir)
	if err != nil {
		s.release(handle)
		s.metrics.RecordScriptLaunch(scriptID, "error")
		return nil, appErrors.Internal(err, "failed to start script")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := proc.Wait(); err != nil {
			s.logger.Warn("script exited with error", zap.String("script", scriptID), zap.Int("pid", proc.Pid()), zap.Error(err))
		} else {
			s.logger.Info("script finished", zap.String("script", scriptID), zap.Int("pid", proc.Pid()))
		}
		s.release(handle)
	}()

	s.metrics.RecordScriptLaunch(scriptID, models.ScriptStarted)
	emitAudit(ctx, s.audit, s.logger, actor, models.AuditActionScriptLaunch, "script", scriptID, map[string]interface{}{
		"pid":  proc.Pid(),
		"wait": wait,
	})
	s.logger.Info("script launched", zap.String("script", scriptID), zap.Int("pid", proc.Pid()), zap.Bool("wait", wait))

	launch := &models.ScriptLaunch{ScriptID: scriptID, Status: models.ScriptStarted, PID: proc.Pid(), StartedAt: startedAt}
	if !wait {
		return launch, nil
	}

	status, err := s.waitForOutput(ctx, startedAt, done)
	if err != nil {
		return nil, err
	}
	if status != models.ScriptCompleted {
		launch.Status = status
		return launch, nil
	}

	report, err := s.importer.Import(ctx, models.ImportSource{}, actor)
	if err != nil {
		return nil, err
	}
	launch.Status = models.ScriptCompleted
	launch.Import = report
	return launch, nil
}

// waitForOutput polls the data directory. A script that exits without
// producing output is reported as failed.
func (s *ScriptService) waitForOutput(ctx context.Context, since time.Time, done <-chan struct{}) (string, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.WaitTimeout)
	defer deadline.Stop()

	for {
		if s.freshOutput(since) {
			return models.ScriptCompleted, nil
		}
		select {
		case <-ctx.Done():
			return "", appErrors.Wrap(ctx.Err(), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "script wait cancelled")
		case <-deadline.C:
			return models.ScriptTimeout, nil
		case <-done:
			if s.freshOutput(since) {
				return models.ScriptCompleted, nil
			}
			return models.ScriptFailed, nil
		case <-ticker.C:
		}
	}
}

func (s *ScriptService) freshOutput(since time.Time) bool {
	threshold := since.Truncate(time.Second)
	for _, name := range []string{ImportJSONFile, ImportCSVFile} {
		info, err := os.Stat(filepath.Join(s.cfg.DataDir, name))
		if err == nil && !info.ModTime().Before(threshold) {
			return true
		}
	}
	return false
}

// Progress returns the scraper's progress file. No file means nothing has run yet.
func (s *ScriptService) Progress(ctx context.Context) (*models.ScrapingProgress, error) {
	raw, err := os.ReadFile(filepath.Join(s.cfg.DataDir, ScrapingProgressFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &models.ScrapingProgress{Status: "idle"}, nil
		}
		return nil, appErrors.Internal(err, "failed to read scraping progress")
	}
	var progress models.ScrapingProgress
	if err := json.Unmarshal(raw, &progress); err != nil {
		return nil, appErrors.Internal(err, "scraping progress file is malformed")
	}
	return &progress, nil
}

// Scripts lists the launchable script ids.
func (s *ScriptService) Scripts() []string {
	return append([]string(nil), s.cfg.Allowed...)
}

func (s *ScriptService) allowed(id string) bool {
	for _, candidate := range s.cfg.Allowed {
		if candidate == id {
			return true
		}
	}
	return false
}

func (s *ScriptService) release(handle *lock.Handle) {
	if handle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locker.Release(ctx, handle); err != nil {
		s.logger.Warn("failed to release script lock", zap.String("key", handle.Key), zap.Error(err))
	}
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p execProcess) Wait() error { return p.cmd.Wait() }

// startDetached runs the script outside any request context so that a client
// disconnect does not kill it.
func startDetached(interpreter, script, dir string) (scriptProcess, error) {
	cmd := exec.Command(interpreter, script)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return execProcess{cmd: cmd}, nil
}
