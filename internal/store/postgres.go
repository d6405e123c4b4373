package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// PostgresStore is the multi-reader PS backend for deployments where
// several admin/diagnostic consumers poll the same state concurrently
// and a single-writer JSON file would serialize them unnecessarily.
// Grounded on the teacher's PostgresStore: sql.Open("postgres", ...),
// Ping, then idempotent CREATE TABLE IF NOT EXISTS migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to databaseURL and runs migrations.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "NewPostgresStore", "failed to open postgres", err)
	}
	if err := db.Ping(); err != nil {
		return nil, clara.WrapError(clara.KindInternal, "NewPostgresStore", "failed to ping postgres", err)
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(); err != nil {
		return nil, clara.WrapError(clara.KindInternal, "NewPostgresStore", "failed to run migrations", err)
	}
	log.Printf("[store] connected to PostgreSQL")
	return ps, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS app_trust (
			package TEXT PRIMARY KEY,
			display_name TEXT DEFAULT '',
			install_source TEXT NOT NULL,
			score INTEGER NOT NULL,
			max_score INTEGER NOT NULL,
			status TEXT NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			last_violation TIMESTAMPTZ,
			last_good_behavior TIMESTAMPTZ,
			violation_count INTEGER DEFAULT 0,
			good_streak_days INTEGER DEFAULT 0,
			whitelisted BOOLEAN DEFAULT FALSE,
			quarantined BOOLEAN DEFAULT FALSE,
			suspended BOOLEAN DEFAULT FALSE,
			network_blocked BOOLEAN DEFAULT FALSE,
			fuzzy_location BOOLEAN DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_app_trust_status ON app_trust(status)`,
		`CREATE TABLE IF NOT EXISTS violations (
			id BIGSERIAL PRIMARY KEY,
			package TEXT NOT NULL,
			kind TEXT NOT NULL,
			penalty INTEGER NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			context TEXT DEFAULT '',
			was_blocked BOOLEAN DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_package ON violations(package)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_timestamp ON violations(timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS service_state (
			name TEXT PRIMARY KEY,
			pid INTEGER DEFAULT 0,
			status INTEGER NOT NULL,
			start_time TIMESTAMPTZ,
			last_heartbeat TIMESTAMPTZ,
			restart_count INTEGER DEFAULT 0,
			error_message TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rego_overrides (
			name TEXT PRIMARY KEY,
			source TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) SaveAppRecord(ctx context.Context, rec clara.AppTrustRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_trust (package, display_name, install_source, score, max_score, status,
			first_seen, last_violation, last_good_behavior, violation_count, good_streak_days,
			whitelisted, quarantined, suspended, network_blocked, fuzzy_location)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (package) DO UPDATE SET
			display_name=$2, install_source=$3, score=$4, max_score=$5, status=$6,
			first_seen=$7, last_violation=$8, last_good_behavior=$9, violation_count=$10,
			good_streak_days=$11, whitelisted=$12, quarantined=$13, suspended=$14,
			network_blocked=$15, fuzzy_location=$16`,
		rec.Package, rec.DisplayName, rec.InstallSrc, rec.Score, rec.MaxScore, rec.Status,
		rec.FirstSeen, rec.LastViolation, rec.LastGood, rec.ViolationCount, rec.GoodStreakDays,
		rec.Whitelisted, rec.Quarantined, rec.Suspended, rec.NetworkBlocked, rec.FuzzyLocation)
	if err != nil {
		return clara.WrapError(clara.KindInternal, "SaveAppRecord", "upsert app_trust", err)
	}
	return nil
}

func scanAppRecord(row interface{ Scan(...interface{}) error }) (clara.AppTrustRecord, error) {
	var rec clara.AppTrustRecord
	err := row.Scan(&rec.Package, &rec.DisplayName, &rec.InstallSrc, &rec.Score, &rec.MaxScore, &rec.Status,
		&rec.FirstSeen, &rec.LastViolation, &rec.LastGood, &rec.ViolationCount, &rec.GoodStreakDays,
		&rec.Whitelisted, &rec.Quarantined, &rec.Suspended, &rec.NetworkBlocked, &rec.FuzzyLocation)
	return rec, err
}

const appTrustColumns = `package, display_name, install_source, score, max_score, status,
	first_seen, last_violation, last_good_behavior, violation_count, good_streak_days,
	whitelisted, quarantined, suspended, network_blocked, fuzzy_location`

func (s *PostgresStore) GetAppRecord(ctx context.Context, pkg string) (*clara.AppTrustRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appTrustColumns+` FROM app_trust WHERE package=$1`, pkg)
	rec, err := scanAppRecord(row)
	if err == sql.ErrNoRows {
		return nil, clara.NewError(clara.KindNotFound, "GetAppRecord", "no trust record for "+pkg)
	}
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetAppRecord", "scan app_trust", err)
	}
	return &rec, nil
}

func (s *PostgresStore) queryAppRecords(ctx context.Context, query string, args ...interface{}) ([]clara.AppTrustRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "queryAppRecords", "query app_trust", err)
	}
	defer rows.Close()

	var out []clara.AppTrustRecord
	for rows.Next() {
		rec, err := scanAppRecord(rows)
		if err != nil {
			return nil, clara.WrapError(clara.KindInternal, "queryAppRecords", "scan row", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAllAppRecords(ctx context.Context) ([]clara.AppTrustRecord, error) {
	return s.queryAppRecords(ctx, `SELECT `+appTrustColumns+` FROM app_trust`)
}

func (s *PostgresStore) GetAppsByStatus(ctx context.Context, status clara.AppStatus) ([]clara.AppTrustRecord, error) {
	return s.queryAppRecords(ctx, `SELECT `+appTrustColumns+` FROM app_trust WHERE status=$1`, status)
}

func (s *PostgresStore) DeleteAppRecord(ctx context.Context, pkg string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_trust WHERE package=$1`, pkg)
	if err != nil {
		return clara.WrapError(clara.KindInternal, "DeleteAppRecord", "delete app_trust", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return clara.NewError(clara.KindNotFound, "DeleteAppRecord", "no trust record for "+pkg)
	}
	return nil
}

func (s *PostgresStore) AppendViolation(ctx context.Context, v clara.ViolationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (package, kind, penalty, timestamp, context, was_blocked)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		v.Package, v.Kind, v.Penalty, v.Timestamp, v.Context, v.WasBlocked)
	if err != nil {
		return clara.WrapError(clara.KindInternal, "AppendViolation", "insert violation", err)
	}
	return nil
}

func (s *PostgresStore) GetRecentViolations(ctx context.Context, pkg string, limit int) ([]clara.ViolationRecord, error) {
	query := `SELECT id, package, kind, penalty, timestamp, context, was_blocked FROM violations`
	args := []interface{}{}
	if pkg != "" {
		query += ` WHERE package=$1`
		args = append(args, pkg)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetRecentViolations", "query violations", err)
	}
	defer rows.Close()

	var out []clara.ViolationRecord
	for rows.Next() {
		var v clara.ViolationRecord
		if err := rows.Scan(&v.ID, &v.Package, &v.Kind, &v.Penalty, &v.Timestamp, &v.Context, &v.WasBlocked); err != nil {
			return nil, clara.WrapError(clara.KindInternal, "GetRecentViolations", "scan row", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveServiceState(ctx context.Context, st clara.ServiceState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_state (name, pid, status, start_time, last_heartbeat, restart_count, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (name) DO UPDATE SET
			pid=$2, status=$3, start_time=$4, last_heartbeat=$5, restart_count=$6, error_message=$7`,
		st.Name, st.PID, st.Status, st.StartTime, st.LastHeartbeat, st.RestartCount, st.ErrorMessage)
	if err != nil {
		return clara.WrapError(clara.KindInternal, "SaveServiceState", "upsert service_state", err)
	}
	return nil
}

func (s *PostgresStore) GetServiceState(ctx context.Context, name string) (*clara.ServiceState, error) {
	var st clara.ServiceState
	row := s.db.QueryRowContext(ctx, `SELECT name, pid, status, start_time, last_heartbeat, restart_count, error_message
		FROM service_state WHERE name=$1`, name)
	err := row.Scan(&st.Name, &st.PID, &st.Status, &st.StartTime, &st.LastHeartbeat, &st.RestartCount, &st.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, clara.NewError(clara.KindNotFound, "GetServiceState", "no state for "+name)
	}
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetServiceState", "scan service_state", err)
	}
	return &st, nil
}

func (s *PostgresStore) GetAllServiceStates(ctx context.Context) ([]clara.ServiceState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, pid, status, start_time, last_heartbeat, restart_count, error_message FROM service_state`)
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetAllServiceStates", "query service_state", err)
	}
	defer rows.Close()

	var out []clara.ServiceState
	for rows.Next() {
		var st clara.ServiceState
		if err := rows.Scan(&st.Name, &st.PID, &st.Status, &st.StartTime, &st.LastHeartbeat, &st.RestartCount, &st.ErrorMessage); err != nil {
			return nil, clara.WrapError(clara.KindInternal, "GetAllServiceStates", "scan row", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=$1`, key)
	err := row.Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, clara.WrapError(clara.KindInternal, "GetSetting", "scan settings", err)
	}
	return v, true, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value=$2`, key, value)
	if err != nil {
		return clara.WrapError(clara.KindInternal, "SetSetting", "upsert settings", err)
	}
	return nil
}

func (s *PostgresStore) GetAllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetAllSettings", "query settings", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, clara.WrapError(clara.KindInternal, "GetAllSettings", "scan row", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveRegoOverride(ctx context.Context, name, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rego_overrides (name, source) VALUES ($1,$2)
		ON CONFLICT (name) DO UPDATE SET source=$2`, name, source)
	if err != nil {
		return clara.WrapError(clara.KindInternal, "SaveRegoOverride", "upsert rego_overrides", err)
	}
	return nil
}

func (s *PostgresStore) GetRegoOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, source FROM rego_overrides`)
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetRegoOverrides", "query rego_overrides", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var n, src string
		if err := rows.Scan(&n, &src); err != nil {
			return nil, clara.WrapError(clara.KindInternal, "GetRegoOverrides", "scan row", err)
		}
		out[n] = src
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteRegoOverride(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rego_overrides WHERE name=$1`, name)
	if err != nil {
		return clara.WrapError(clara.KindInternal, "DeleteRegoOverride", "delete rego_overrides", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return clara.NewError(clara.KindNotFound, "DeleteRegoOverride", "no override named "+name)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
