package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dronecoord/internal/config"
	"dronecoord/internal/db"
	"dronecoord/internal/domain"
	"dronecoord/internal/engine"
	"dronecoord/internal/events"
	"dronecoord/internal/migrate"
	"dronecoord/internal/repo"
	"dronecoord/internal/sheets"
)

const secretFile = "proposal.key"

// Options selects the workspace and the proposal signing secret.
type Options struct {
	Workspace string
	// Secret signs proposal tokens. When empty a per-workspace key is
	// created on first use.
	Secret string
	Log    *zap.Logger
}

// Workspace is an opened workspace: its config, the journal database and
// the coordinator over the configured record store.
type Workspace struct {
	Config      *config.Config
	DB          *sql.DB
	Journal     repo.Journal
	Coordinator *Coordinator
}

func (w *Workspace) Close() error {
	if w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// Open loads dronecoord.yml (defaults when absent), migrates the workspace
// database and connects the record store named by store.backend. The
// journal always lives in the workspace database.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := config.LoadOrDefault(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.Debug("workspace database ready", zap.String("path", db.Path(opts.Workspace)), zap.Int("schema_version", version))

	secret := opts.Secret
	if secret == "" {
		if secret, err = workspaceSecret(opts.Workspace); err != nil {
			conn.Close()
			return nil, err
		}
	}

	var store RecordStore
	switch cfg.Store.Backend {
	case config.BackendSheets:
		s, err := sheets.New(ctx, cfg.Sheets, log.Named("sheets"))
		if err != nil {
			conn.Close()
			return nil, err
		}
		store = s
	default:
		store = repo.Repo{DB: conn}
	}

	journal := repo.Journal{DB: conn, Writer: events.Writer{}}
	return &Workspace{
		Config:  cfg,
		DB:      conn,
		Journal: journal,
		Coordinator: &Coordinator{
			Store:   store,
			Journal: journal,
			Engine:  engine.New(Rules(cfg), log.Named("engine")),
			Log:     log.Named("coordinator"),
			Secret:  []byte(secret),
		},
	}, nil
}

// Rules converts the rules section of the config.
func Rules(cfg *config.Config) engine.Rules {
	if cfg == nil {
		return engine.DefaultRules()
	}
	return engine.Rules{
		DroneCapabilitySkills:  domain.NewTags(cfg.Rules.DroneCapabilitySkills...),
		MaintenanceWarningDays: cfg.Rules.MaintenanceWarningDays,
	}
}

// workspaceSecret reads the workspace signing key, creating it when missing.
func workspaceSecret(workspace string) (string, error) {
	dir, err := db.EnsureWorkspace(workspace)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, secretFile)
	data, err := os.ReadFile(path)
	if err == nil && strings.TrimSpace(string(data)) != "" {
		return strings.TrimSpace(string(data)), nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read signing key: %w", err)
	}
	secret := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write signing key: %w", err)
	}
	return secret, nil
}
