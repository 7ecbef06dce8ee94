package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	_ "modernc.org/sqlite"

	"dvetransfer/internal/services"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes.
const schemaVersion = 1

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrSchemaMismatch indicates the database was written by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Store is the embedded SQLite catalog.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ Service = (*Store)(nil)

// OpenStore opens or creates the catalog database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}
	// Pragmas go into the DSN so every pooled connection gets them.
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
			return nil
		})
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy retries op with exponential backoff while SQLite reports a
// busy database. Other errors are returned immediately.
func (s *Store) retryOnBusy(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = busyRetryInitialBackoff
	policy.MaxInterval = busyRetryMaxBackoff
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, busyRetryAttempts), ctx)

	var opErr error
	err := backoff.Retry(func() error {
		opErr = op()
		if isSQLiteBusy(opErr) {
			return opErr
		}
		return nil
	}, retry)
	if err != nil {
		return err
	}
	return opErr
}

func (s *Store) withTx(ctx context.Context, op func(*sql.Tx) error) error {
	return s.retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := op(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetDataset loads a dataset with all its version exports.
func (s *Store) GetDataset(ctx context.Context, nbn string) (*Dataset, error) {
	var dataset *Dataset
	err := s.retryOnBusy(ctx, func() error {
		var err error
		dataset, err = loadDataset(ctx, s.db, nbn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dataset, nil
}

// ListDatasets returns every NBN in the catalog, sorted.
func (s *Store) ListDatasets(ctx context.Context) ([]string, error) {
	var nbns []string
	err := s.retryOnBusy(ctx, func() error {
		nbns = nbns[:0]
		rows, err := s.db.QueryContext(ctx, "SELECT nbn FROM datasets ORDER BY nbn")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var nbn string
			if err := rows.Scan(&nbn); err != nil {
				return err
			}
			nbns = append(nbns, nbn)
		}
		return rows.Err()
	})
	return nbns, err
}

// CreateDataset inserts a dataset and its initial version exports.
func (s *Store) CreateDataset(ctx context.Context, dataset Dataset) error {
	if strings.TrimSpace(dataset.NBN) == "" {
		return fmt.Errorf("create dataset: nbn is required: %w", services.ErrValidation)
	}
	versions := append([]VersionExport(nil), dataset.Versions...)
	sort.Slice(versions, func(i, j int) bool { return versions[i].ObjectVersion < versions[j].ObjectVersion })
	for i, export := range versions {
		if export.ObjectVersion != i+1 {
			return fmt.Errorf("create dataset %s: version %d at position %d: %w", dataset.NBN, export.ObjectVersion, i+1, ErrVersionGap)
		}
		if export.Skeleton && i != len(versions)-1 {
			return fmt.Errorf("create dataset %s: skeleton only allowed as latest version: %w", dataset.NBN, services.ErrConsistency)
		}
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM datasets WHERE nbn = ?", dataset.NBN).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("create dataset %s: %w", dataset.NBN, ErrDatasetExists)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO datasets (nbn, datastation, dataset_pid, sword_token, data_supplier, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			dataset.NBN, dataset.Datastation, dataset.DatasetPID, dataset.SwordToken, dataset.DataSupplier, now,
		); err != nil {
			return fmt.Errorf("insert dataset: %w", err)
		}
		for _, export := range versions {
			if err := insertExport(ctx, tx, dataset.NBN, export, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetVersionExport appends the next version or replaces a skeleton at the
// same number. Replacing a finalized export fails with ErrNotSkeleton.
func (s *Store) SetVersionExport(ctx context.Context, nbn string, export VersionExport) error {
	now := s.now().UTC().Format(time.RFC3339Nano)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM datasets WHERE nbn = ?", nbn).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		var skeleton int
		err := tx.QueryRowContext(ctx,
			"SELECT skeleton FROM version_exports WHERE dataset_nbn = ? AND object_version = ?",
			nbn, export.ObjectVersion,
		).Scan(&skeleton)
		switch {
		case err == nil:
			if skeleton == 0 {
				return fmt.Errorf("set version %d of %s: %w", export.ObjectVersion, nbn, ErrNotSkeleton)
			}
			if err := deleteExport(ctx, tx, nbn, export.ObjectVersion); err != nil {
				return err
			}
		case errors.Is(err, sql.ErrNoRows):
			var latest, openSkeletons int
			if err := tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(object_version), 0), COALESCE(SUM(skeleton), 0) FROM version_exports WHERE dataset_nbn = ?",
				nbn,
			).Scan(&latest, &openSkeletons); err != nil {
				return err
			}
			if export.ObjectVersion != latest+1 {
				return fmt.Errorf("set version %d of %s (latest %d): %w", export.ObjectVersion, nbn, latest, ErrVersionGap)
			}
			if openSkeletons > 0 {
				return fmt.Errorf("append version %d of %s while a skeleton is open: %w", export.ObjectVersion, nbn, services.ErrConsistency)
			}
		default:
			return err
		}
		return insertExport(ctx, tx, nbn, export, now)
	})
}

func insertExport(ctx context.Context, tx *sql.Tx, nbn string, export VersionExport, now string) error {
	var meta sql.NullString
	if len(export.Metadata) > 0 {
		meta = sql.NullString{String: string(export.Metadata), Valid: true}
	}
	created := export.Created
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO version_exports (
			dataset_nbn, object_version, created_timestamp, bag_id, dataset_version, title,
			exporter, exporter_version, other_id, other_id_version, skeleton, metadata, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nbn, export.ObjectVersion, created.UTC().Format(time.RFC3339Nano), export.BagID,
		export.DatasetVersion, export.Title, export.Exporter, export.ExporterVersion,
		export.OtherID, export.OtherIDVersion, boolToInt(export.Skeleton), meta, now,
	); err != nil {
		return fmt.Errorf("insert version export %d: %w", export.ObjectVersion, err)
	}
	for _, f := range export.Files {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO file_metas (dataset_nbn, object_version, path, uri, size, sha1) VALUES (?, ?, ?, ?, ?, ?)",
			nbn, export.ObjectVersion, f.Path, f.URI, f.Size, f.SHA1,
		); err != nil {
			return fmt.Errorf("insert file meta %s: %w", f.Path, err)
		}
	}
	return nil
}

func deleteExport(ctx context.Context, tx *sql.Tx, nbn string, version int) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM file_metas WHERE dataset_nbn = ? AND object_version = ?", nbn, version); err != nil {
		return fmt.Errorf("delete file metas: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM version_exports WHERE dataset_nbn = ? AND object_version = ?", nbn, version); err != nil {
		return fmt.Errorf("delete version export: %w", err)
	}
	return nil
}

func loadDataset(ctx context.Context, q querier, nbn string) (*Dataset, error) {
	dataset := &Dataset{}
	err := q.QueryRowContext(ctx,
		"SELECT nbn, datastation, dataset_pid, sword_token, data_supplier FROM datasets WHERE nbn = ?", nbn,
	).Scan(&dataset.NBN, &dataset.Datastation, &dataset.DatasetPID, &dataset.SwordToken, &dataset.DataSupplier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT object_version, created_timestamp, bag_id, dataset_version, title, exporter,
		        exporter_version, other_id, other_id_version, skeleton, metadata
		   FROM version_exports WHERE dataset_nbn = ? ORDER BY object_version`, nbn)
	if err != nil {
		return nil, fmt.Errorf("load version exports: %w", err)
	}
	index := make(map[int]int)
	for rows.Next() {
		var (
			export   VersionExport
			created  string
			skeleton int
			meta     sql.NullString
		)
		if err := rows.Scan(&export.ObjectVersion, &created, &export.BagID, &export.DatasetVersion,
			&export.Title, &export.Exporter, &export.ExporterVersion, &export.OtherID,
			&export.OtherIDVersion, &skeleton, &meta); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan version export: %w", err)
		}
		export.DatasetNBN = nbn
		export.Skeleton = skeleton != 0
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			export.Created = ts
		}
		if meta.Valid {
			export.Metadata = []byte(meta.String)
		}
		index[export.ObjectVersion] = len(dataset.Versions)
		dataset.Versions = append(dataset.Versions, export)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	fileRows, err := q.QueryContext(ctx,
		"SELECT object_version, path, uri, size, sha1 FROM file_metas WHERE dataset_nbn = ? ORDER BY object_version, path", nbn)
	if err != nil {
		return nil, fmt.Errorf("load file metas: %w", err)
	}
	defer fileRows.Close()
	for fileRows.Next() {
		var (
			version int
			f       FileMeta
		)
		if err := fileRows.Scan(&version, &f.Path, &f.URI, &f.Size, &f.SHA1); err != nil {
			return nil, fmt.Errorf("scan file meta: %w", err)
		}
		if i, ok := index[version]; ok {
			dataset.Versions[i].Files = append(dataset.Versions[i].Files, f)
		}
	}
	return dataset, fileRows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
