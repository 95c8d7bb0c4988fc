// Package liquibase drives the Liquibase CLI and reads the engine-owned
// DATABASECHANGELOG history table.
//
// Liquibase is a Java program, so the adapter shells out to its CLI for the
// apply/rollback/tag primitives and talks to the history table directly over
// database/sql for the read-only queries the reconciler needs.
package liquibase

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strings"

	"github.com/beekhuis/changeguard/pkg/consts"
	"github.com/beekhuis/changeguard/pkg/engine"
	"github.com/pkg/errors"
)

type (
	// Config holds everything needed to invoke the Liquibase CLI against one
	// datasource.
	Config struct {
		// Bin is the liquibase executable (default "liquibase").
		Bin string

		// Classpath is passed to the CLI for JDBC driver discovery.
		Classpath string

		// URL is the JDBC URL of the datasource.
		URL string

		Username string
		Password string

		// Contexts is the Liquibase context string (dev, test, prod).
		Contexts string

		Logger *slog.Logger

		// runner overrides command execution in tests.
		runner runner
	}

	// Opener creates CLI-backed sessions for one datasource.
	Opener struct {
		cfg Config
	}

	session struct {
		cfg    Config
		master string
		logger *slog.Logger
	}

	// runner executes a prepared command and returns its combined output.
	runner func(ctx context.Context, bin string, args []string) ([]byte, error)
)

// New returns an Opener that binds the configured datasource into every
// session it opens.
func New(cfg Config) *Opener {
	if cfg.Bin == "" {
		cfg.Bin = "liquibase"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.runner == nil {
		cfg.runner = runCommand
	}
	return &Opener{cfg: cfg}
}

// Open binds the master changelog file into a session.
func (o *Opener) Open(masterFile string) (engine.Session, error) {
	if masterFile == "" {
		return nil, &engine.Error{Op: "open", Err: errors.New("master changelog file is required")}
	}

	return &session{
		cfg:    o.cfg,
		master: masterFile,
		logger: o.cfg.Logger.With("master", masterFile),
	}, nil
}

func (s *session) ListUnrun(ctx context.Context) ([]engine.ChangeSet, error) {
	out, err := s.run(ctx, "status", "--verbose")
	if err != nil {
		return nil, &engine.Error{Op: "status", Master: s.master, Err: err}
	}

	return parseStatus(bytes.NewReader(out))
}

func (s *session) Tag(ctx context.Context, label string) error {
	s.logger.Info("tagging current state", "tag", label)
	if _, err := s.run(ctx, "tag", label); err != nil {
		return &engine.Error{Op: "tag", Master: s.master, Err: err}
	}
	return nil
}

func (s *session) TestRollback(ctx context.Context) bool {
	s.logger.Info("testing rollback of changesets")
	if _, err := s.run(ctx, "updateTestingRollback"); err != nil {
		s.logger.Warn("rollback test failed", "error", err)
		return false
	}
	s.logger.Info("rollback test passed")
	return true
}

func (s *session) Update(ctx context.Context) bool {
	s.logger.Info("applying changesets")
	if _, err := s.run(ctx, "update"); err != nil {
		s.logger.Error("applying changesets failed", "error", err)
		return false
	}
	s.logger.Info("changesets applied")
	return true
}

func (s *session) Rollback(ctx context.Context, tag string) error {
	s.logger.Info("rolling back", "tag", tag)
	if _, err := s.run(ctx, "rollback", tag); err != nil {
		return &engine.Error{Op: "rollback to " + tag, Master: s.master, Err: err}
	}
	s.logger.Info("rollback complete", "tag", tag)
	return nil
}

func (s *session) run(ctx context.Context, subcommand string, extra ...string) ([]byte, error) {
	return s.cfg.runner(ctx, s.cfg.Bin, s.args(subcommand, extra...))
}

// args assembles a full CLI invocation: global options, then the subcommand
// and its arguments.
func (s *session) args(subcommand string, extra ...string) []string {
	args := []string{
		"--changeLogFile=" + s.master,
		"--url=" + s.cfg.URL,
	}
	if s.cfg.Username != "" {
		args = append(args, "--username="+s.cfg.Username)
	}
	if s.cfg.Password != "" {
		args = append(args, "--password="+s.cfg.Password)
	}
	if s.cfg.Classpath != "" {
		args = append(args, "--classpath="+s.cfg.Classpath)
	}
	if s.cfg.Contexts != "" {
		args = append(args, "--contexts="+s.cfg.Contexts)
	}

	args = append(args, subcommand)
	return append(args, extra...)
}

func runCommand(ctx context.Context, bin string, args []string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return nil, err
		}
		return nil, errors.Wrap(err, msg)
	}
	return out, nil
}

// parseStatus extracts unrun changesets from `status --verbose` output.
// Pending changesets are listed one per line as path::id::author; everything
// else (summary lines, banners) is ignored.
func parseStatus(r io.Reader) ([]engine.ChangeSet, error) {
	var sets []engine.ChangeSet

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		parts := strings.Split(line, "::")
		if len(parts) != 3 {
			continue
		}

		sets = append(sets, engine.ChangeSet{
			FilePath: strings.TrimSpace(parts[0]),
			ID:       strings.TrimSpace(parts[1]),
			Author:   strings.TrimSpace(parts[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan status output")
	}

	return sets, nil
}

// History reads the DATABASECHANGELOG table of one datasource.
type History struct {
	db *sql.DB
}

// NewHistory returns a History over db.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Exists reports whether the history table has been created yet.
func (h *History) Exists(ctx context.Context) (bool, error) {
	if err := h.db.PingContext(ctx); err != nil {
		return false, &engine.Error{Op: "history probe", Err: err}
	}

	_, err := h.db.ExecContext(ctx, "SELECT 1 FROM "+consts.HistoryTable+" WHERE 1 = 0")
	return err == nil, nil
}

// AppliedFilenames returns the distinct changelog filenames in history,
// ordered most recent execution first. Duplicate filenames (multiple
// changesets per file) are collapsed first-seen; the engine's internal
// changesets are excluded.
func (h *History) AppliedFilenames(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT filename FROM "+consts.HistoryTable+
			" WHERE filename <> '"+consts.InternalFilename+"' ORDER BY ORDEREXECUTED DESC")
	if err != nil {
		return nil, &engine.Error{Op: "history query", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var filenames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &engine.Error{Op: "history scan", Err: err}
		}
		if !slices.Contains(filenames, name) {
			filenames = append(filenames, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &engine.Error{Op: "history rows", Err: err}
	}

	return filenames, nil
}
