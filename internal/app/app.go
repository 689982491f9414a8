package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"loft-go/internal/config"
	"loft-go/internal/database"
	"loft-go/internal/encryption"
	"loft-go/internal/gateway"
	"loft-go/internal/loft"
	"loft-go/internal/state"
	"loft-go/internal/vault"
	"loft-go/internal/watch"
)

// Version is stamped into workspace.json unless the config overrides it.
const Version = "0.1.0"

// LoftApp is the application layer between the CLI and loft.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and closes the log on Close.
type LoftApp struct {
	cfg       *config.Config
	gateway   loft.Gateway
	vault     loft.Vault
	encryptor loft.Encryptor
	service   *loft.Service
	clock     loft.Clock
	logger    *slog.Logger
	logFile   io.Closer
	op        *Operation
	unsub     func()
}

// NewLoftApp creates a fully wired LoftApp from the given config.
// operation identifies the CLI command being run (e.g. "Open", "CreateBackup").
// The caller must call Close when done.
func NewLoftApp(ctx context.Context, cfg *config.Config, operation string) (*LoftApp, error) {
	return newLoftApp(ctx, cfg, operation, os.Stderr)
}

func newLoftApp(ctx context.Context, cfg *config.Config, operation string, stderr io.Writer) (*LoftApp, error) {
	clock := loft.RealClock{}
	op := NewOperation(operation, clock.Now())

	logger, logFile, err := newLogger(cfg.LogDir, cfg.Log, op.ID, stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	appVersion := Version
	if cfg.AppVersion != "" {
		appVersion = cfg.AppVersion
	}

	seeder := database.NewSeeder(clock, appVersion, "")
	gw, err := gateway.NewGatewayFromConfig(cfg.Gateway, seeder, clock, loft.UUIDGenerator{}, appVersion)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating gateway: %w", err)
	}

	pointer := loft.NewWorkspacePointer(state.NewFilePointerStore(cfg.StatePath))
	if err := pointer.Init(); err != nil {
		logFile.Close()
		return nil, err
	}

	states := loft.NewStateMachine()
	svc := loft.NewService(gw, pointer, states, &slogAdapter{l: logger}, clock)
	svc.SetPolicy(policyFromConfig(cfg.Open))
	svc.SetClassifier(loft.NewPathClassifier(cfg.Cloud.Markers...))
	svc.SetInspector(database.NewInspector(""))

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	if v != nil {
		svc.SetOffsite(v, enc)
	}

	unsub := states.Subscribe(func(s loft.BootState) {
		logger.Debug("boot state", "phase", s.Phase.String(), "path", s.Path)
	})

	logger.Debug("operation started", "operation", op.Name)
	return &LoftApp{
		cfg:       cfg,
		gateway:   gw,
		vault:     v,
		encryptor: enc,
		service:   svc,
		clock:     clock,
		logger:    logger,
		logFile:   logFile,
		op:        op,
		unsub:     unsub,
	}, nil
}

// policyFromConfig converts the millisecond tunables. Zero fields keep the defaults.
func policyFromConfig(o config.OpenConfig) loft.Policy {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return loft.Policy{
		MaterializationTimeout: ms(o.MaterializationTimeoutMS),
		PollInterval:           ms(o.PollIntervalMS),
		MaxOpenAttempts:        o.MaxOpenAttempts,
		RetryBaseDelay:         ms(o.RetryBaseDelayMS),
	}
}

// Service exposes the underlying service, for callers that need boot states.
func (a *LoftApp) Service() *loft.Service { return a.service }

// ActiveWorkspace returns the active workspace path, or "".
func (a *LoftApp) ActiveWorkspace() string { return a.service.Pointer().Current() }

// resolve turns a raw CLI path into an absolute workspace path. An empty path
// means the active workspace.
func (a *LoftApp) resolve(rawPath string) (string, error) {
	if rawPath == "" {
		p := a.ActiveWorkspace()
		if p == "" {
			return "", loft.ErrNoActiveWorkspace
		}
		return p, nil
	}
	p, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return p, nil
}

// Init sets up a workspace at rawPath and makes it the active one.
func (a *LoftApp) Init(ctx context.Context, rawPath string) (*loft.OpenResult, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return nil, a.op.Record(rawPath, err)
	}
	if err := a.service.Setup(ctx, p); err != nil {
		return nil, a.op.Record(p, err)
	}
	res, err := a.service.Switch(ctx, p)
	return res, a.op.Record(p, err)
}

// Open opens rawPath and makes it the active workspace. An empty path
// reopens the active workspace.
func (a *LoftApp) Open(ctx context.Context, rawPath string) (*loft.OpenResult, error) {
	if rawPath == "" {
		res, err := a.service.Resume(ctx)
		return res, a.op.Record(a.ActiveWorkspace(), err)
	}
	p, err := a.resolve(rawPath)
	if err != nil {
		return nil, a.op.Record(rawPath, err)
	}
	res, err := a.service.Switch(ctx, p)
	return res, a.op.Record(p, err)
}

// Status returns a read-only summary of the workspace.
func (a *LoftApp) Status(ctx context.Context, rawPath string) (*loft.WorkspaceStatus, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return nil, a.op.Record(rawPath, err)
	}
	st, err := a.service.Status(ctx, p)
	return st, a.op.Record(p, err)
}

// Wait polls until rawPath exists or timeout elapses. A zero timeout uses the
// configured materialization timeout.
func (a *LoftApp) Wait(ctx context.Context, rawPath string, timeout time.Duration) (bool, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return false, a.op.Record(rawPath, err)
	}
	if timeout <= 0 {
		timeout = policyFromConfig(a.cfg.Open).MaterializationTimeout
		if timeout <= 0 {
			timeout = loft.DefaultPolicy().MaterializationTimeout
		}
	}
	ok, err := a.service.WaitForMaterialization(ctx, p, timeout)
	return ok, a.op.Record(p, err)
}

// Forget clears the active workspace.
func (a *LoftApp) Forget() error {
	return a.op.Record(a.ActiveWorkspace(), a.service.Forget())
}

// Save replaces the workspace database with the contents of srcFile.
func (a *LoftApp) Save(ctx context.Context, rawPath, srcFile string) error {
	p, err := a.resolve(rawPath)
	if err != nil {
		return a.op.Record(rawPath, err)
	}
	data, err := os.ReadFile(srcFile)
	if err != nil {
		return a.op.Record(p, fmt.Errorf("reading %s: %w", srcFile, err))
	}
	return a.op.Record(p, a.service.Save(ctx, p, data))
}

// CreateBackup snapshots the workspace database and returns the backup name.
func (a *LoftApp) CreateBackup(ctx context.Context, rawPath string) (string, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return "", a.op.Record(rawPath, err)
	}
	name, err := a.service.CreateBackup(ctx, p)
	return name, a.op.Record(p, err)
}

// ListBackups returns the workspace backups, newest first.
func (a *LoftApp) ListBackups(ctx context.Context, rawPath string) ([]loft.Backup, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return nil, a.op.Record(rawPath, err)
	}
	backups, err := a.service.ListBackups(ctx, p)
	return backups, a.op.Record(p, err)
}

// RestoreBackup reads the named backup. With apply the bytes are saved as the
// current database; otherwise nothing in the workspace changes.
func (a *LoftApp) RestoreBackup(ctx context.Context, rawPath, name string, apply bool) ([]byte, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return nil, a.op.Record(rawPath, err)
	}
	data, err := a.service.RestoreBackup(ctx, p, name)
	if err != nil {
		return nil, a.op.Record(p, err)
	}
	if apply {
		if err := a.service.Save(ctx, p, data); err != nil {
			return nil, a.op.Record(p, err)
		}
	}
	return data, a.op.Record(p, nil)
}

// Reset wipes and re-seeds the workspace. The CLI confirms before calling it.
func (a *LoftApp) Reset(ctx context.Context, rawPath string) error {
	p, err := a.resolve(rawPath)
	if err != nil {
		return a.op.Record(rawPath, err)
	}
	return a.op.Record(p, a.service.Reset(ctx, p))
}

// Import saves the database entry of the zip archive at zipPath.
func (a *LoftApp) Import(ctx context.Context, rawPath, zipPath string) error {
	p, err := a.resolve(rawPath)
	if err != nil {
		return a.op.Record(rawPath, err)
	}

	f, err := os.Open(zipPath)
	if err != nil {
		return a.op.Record(p, fmt.Errorf("opening archive: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return a.op.Record(p, fmt.Errorf("stat archive: %w", err))
	}
	return a.op.Record(p, a.service.Import(ctx, p, f, info.Size()))
}

// Watch reports changes to the workspace files to fn until ctx is done.
func (a *LoftApp) Watch(ctx context.Context, rawPath string, fn func(watch.Event)) error {
	p, err := a.resolve(rawPath)
	if err != nil {
		return a.op.Record(rawPath, err)
	}

	w, err := watch.New()
	if err != nil {
		return a.op.Record(p, err)
	}
	defer w.Close()

	if err := w.Start(p); err != nil {
		return a.op.Record(p, err)
	}
	a.logger.Info("watching workspace", "path", p)

	for {
		select {
		case <-ctx.Done():
			return a.op.Record(p, nil)
		case ev, ok := <-w.Events():
			if !ok {
				return a.op.Record(p, nil)
			}
			a.logger.Info("workspace changed on disk", "file", ev.Target.String(), "op", ev.Op.String(), "path", ev.Path)
			fn(ev)
		case err, ok := <-w.Errors():
			if !ok {
				return a.op.Record(p, nil)
			}
			a.logger.Warn("watch error", "path", p, "error", err)
		}
	}
}

// SetupKeys generates the offsite encryption key pair.
func (a *LoftApp) SetupKeys(passphrase string) error {
	return a.op.Record("", a.encryptor.Setup(passphrase))
}

// KeysConfigured reports whether the encryption keys exist.
func (a *LoftApp) KeysConfigured() bool { return a.encryptor.IsConfigured() }

// CheckVault verifies that the configured vault is reachable and writable.
func (a *LoftApp) CheckVault(ctx context.Context) error {
	if a.vault == nil {
		return a.op.Record("", loft.ErrOffsiteDisabled)
	}
	return a.op.Record(a.cfg.Vault.Type, a.vault.ValidateSetup(ctx))
}

// PushBackup copies the named backup offsite. An empty name pushes the newest
// local backup. It returns the name that was pushed.
func (a *LoftApp) PushBackup(ctx context.Context, rawPath, name string) (string, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return "", a.op.Record(rawPath, err)
	}
	if name == "" {
		backups, err := a.service.ListBackups(ctx, p)
		if err != nil {
			return "", a.op.Record(p, err)
		}
		if len(backups) == 0 {
			return "", a.op.Record(p, errors.New("workspace has no backups to push"))
		}
		name = backups[0].Name
	}
	return name, a.op.Record(p, a.service.PushBackup(ctx, p, name))
}

// ListOffsite returns the workspace's offsite copies, newest first.
func (a *LoftApp) ListOffsite(ctx context.Context, rawPath string) ([]loft.Backup, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return nil, a.op.Record(rawPath, err)
	}
	backups, err := a.service.ListOffsiteBackups(ctx, p)
	return backups, a.op.Record(p, err)
}

// PullBackup unlocks the private key with passphrase and downloads the named
// offsite copy. With apply the bytes are saved as the current database.
func (a *LoftApp) PullBackup(ctx context.Context, rawPath, name, passphrase string, apply bool) ([]byte, error) {
	p, err := a.resolve(rawPath)
	if err != nil {
		return nil, a.op.Record(rawPath, err)
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return nil, a.op.Record(p, err)
	}
	data, err := a.service.PullBackup(ctx, p, name, dec)
	if err != nil {
		return nil, a.op.Record(p, err)
	}
	if apply {
		if err := a.service.Save(ctx, p, data); err != nil {
			return nil, a.op.Record(p, err)
		}
	}
	return data, a.op.Record(p, nil)
}

// Close logs the outcome of the operation and closes the log file.
func (a *LoftApp) Close() error {
	if a.unsub != nil {
		a.unsub()
	}
	a.logger.Debug("operation finished",
		"operation", a.op.Name,
		"parameters", a.op.Parameters,
		"status", a.op.Status,
		"duration", a.op.Duration(a.clock.Now()).Truncate(time.Millisecond),
	)
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			return fmt.Errorf("closing log file: %w", err)
		}
	}
	return nil
}
