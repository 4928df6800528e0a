package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/port"
	_ "modernc.org/sqlite"
)

// SQLiteGateway persists measurements, action logs and the system config in
// a single SQLite file. One connection serialises writers.
type SQLiteGateway struct {
	db *sql.DB
}

func OpenSQLiteGateway(path string) (*SQLiteGateway, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteGateway{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS system_config (
    id                       INTEGER PRIMARY KEY AUTOINCREMENT,
    poll_interval_ms         INTEGER NOT NULL,
    voltage_poll_interval_ms INTEGER NOT NULL,
    low_voltage_threshold    REAL    NOT NULL,
    charge_limit_soc         REAL    NOT NULL,
    pv_ok_threshold          REAL    NOT NULL,
    soc_floor_voltage        REAL    NOT NULL,
    soc_ceiling_voltage      REAL    NOT NULL,
    charge_relay_channel     INTEGER NOT NULL,
    port_identifier          TEXT    NOT NULL,
    updated_at               TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS measurement (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    config_id     INTEGER REFERENCES system_config(id),
    ts            TEXT    NOT NULL,
    ts_unix_ms    INTEGER NOT NULL,
    pv_voltage    REAL    NOT NULL,
    pv_current    REAL    NOT NULL,
    pv_power      REAL    NOT NULL,
    cell1_voltage REAL    NOT NULL,
    cell2_voltage REAL    NOT NULL,
    cell3_voltage REAL    NOT NULL,
    total_voltage REAL    NOT NULL,
    max_current   REAL    NOT NULL,
    energy_wh     REAL    NOT NULL,
    temperature   REAL    NOT NULL,
    soc           REAL    NOT NULL,
    charge_stage  TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_measurement_ts ON measurement (ts_unix_ms);
CREATE TABLE IF NOT EXISTS action_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    measurement_id INTEGER NOT NULL REFERENCES measurement(id) ON DELETE CASCADE,
    ts             TEXT    NOT NULL,
    ts_unix_ms     INTEGER NOT NULL,
    channel        INTEGER NOT NULL,
    state          TEXT    NOT NULL,
    action         TEXT    NOT NULL,
    reason         TEXT    NOT NULL,
    send_failed    INTEGER NOT NULL,
    manual         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_log_ts ON action_log (ts_unix_ms);
`)
	return err
}

func (g *SQLiteGateway) AppendMeasurement(ctx context.Context, m domain.Measurement) (int64, error) {
	var configID any
	if m.ConfigID != 0 {
		configID = m.ConfigID
	}
	res, err := g.db.ExecContext(ctx,
		`INSERT INTO measurement
		    (config_id, ts, ts_unix_ms, pv_voltage, pv_current, pv_power,
		     cell1_voltage, cell2_voltage, cell3_voltage, total_voltage,
		     max_current, energy_wh, temperature, soc, charge_stage)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		configID,
		formatTime(m.Timestamp),
		m.Timestamp.UnixMilli(),
		m.PVVoltage, m.PVCurrent, m.PVPower,
		m.CellVoltage[0], m.CellVoltage[1], m.CellVoltage[2], m.TotalVoltage,
		m.MaxCurrent, m.EnergyWh, m.Temperature, m.StateOfCharge,
		string(m.ChargeStage),
	)
	if err != nil {
		return 0, writeFailed("append measurement", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, writeFailed("append measurement", err)
	}
	return id, nil
}

func (g *SQLiteGateway) AppendActionLog(ctx context.Context, entry domain.ActionLog) (int64, error) {
	res, err := g.db.ExecContext(ctx,
		`INSERT INTO action_log
		    (measurement_id, ts, ts_unix_ms, channel, state, action, reason, send_failed, manual)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.MeasurementID,
		formatTime(entry.Timestamp),
		entry.Timestamp.UnixMilli(),
		int(entry.Channel),
		string(entry.State),
		string(entry.Action),
		entry.Reason,
		entry.SendFailed,
		entry.Manual,
	)
	if err != nil {
		return 0, writeFailed("append action log", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, writeFailed("append action log", err)
	}
	return id, nil
}

func (g *SQLiteGateway) GetConfig(ctx context.Context) (*domain.SystemConfig, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT id, poll_interval_ms, voltage_poll_interval_ms, low_voltage_threshold,
		        charge_limit_soc, pv_ok_threshold, soc_floor_voltage, soc_ceiling_voltage,
		        charge_relay_channel, port_identifier, updated_at
		 FROM system_config ORDER BY id DESC LIMIT 1`)

	var cfg domain.SystemConfig
	var pollMs, voltagePollMs int64
	var channel int
	var updatedAt string
	err := row.Scan(&cfg.ID, &pollMs, &voltagePollMs, &cfg.LowVoltageThreshold,
		&cfg.ChargeLimitSoC, &cfg.PVOkThreshold, &cfg.SoCFloorVoltage, &cfg.SoCCeilingVoltage,
		&channel, &cfg.PortIdentifier, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, readFailed("get config", err)
	}
	cfg.PollInterval = time.Duration(pollMs) * time.Millisecond
	cfg.VoltagePollInterval = time.Duration(voltagePollMs) * time.Millisecond
	cfg.ChargeRelayChannel = domain.RelayChannel(channel)
	cfg.UpdatedAt = parseTime(updatedAt)
	return &cfg, nil
}

// SaveConfig appends a new config row stamped with the save time; the latest
// row is the active one so measurements keep pointing at the config they were
// taken under.
func (g *SQLiteGateway) SaveConfig(ctx context.Context, cfg domain.SystemConfig) (domain.SystemConfig, error) {
	cfg.UpdatedAt = time.Now()
	res, err := g.db.ExecContext(ctx,
		`INSERT INTO system_config
		    (poll_interval_ms, voltage_poll_interval_ms, low_voltage_threshold,
		     charge_limit_soc, pv_ok_threshold, soc_floor_voltage, soc_ceiling_voltage,
		     charge_relay_channel, port_identifier, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.PollInterval.Milliseconds(),
		cfg.VoltagePollInterval.Milliseconds(),
		cfg.LowVoltageThreshold,
		cfg.ChargeLimitSoC,
		cfg.PVOkThreshold,
		cfg.SoCFloorVoltage,
		cfg.SoCCeilingVoltage,
		int(cfg.ChargeRelayChannel),
		cfg.PortIdentifier,
		formatTime(cfg.UpdatedAt),
	)
	if err != nil {
		return cfg, writeFailed("save config", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return cfg, writeFailed("save config", err)
	}
	cfg.ID = id
	return cfg, nil
}

const measurementColumns = `id, COALESCE(config_id, 0), ts, pv_voltage, pv_current, pv_power,
		        cell1_voltage, cell2_voltage, cell3_voltage, total_voltage,
		        max_current, energy_wh, temperature, soc, charge_stage`

func (g *SQLiteGateway) GetLatestMeasurement(ctx context.Context) (*domain.Measurement, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT `+measurementColumns+` FROM measurement ORDER BY id DESC LIMIT 1`)
	m, err := scanMeasurement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, readFailed("latest measurement", err)
	}
	return m, nil
}

// MeasurementsBetween returns measurements with from <= ts < to, oldest
// first. A zero to means no upper bound.
func (g *SQLiteGateway) MeasurementsBetween(ctx context.Context, from, to time.Time, limit int) ([]domain.Measurement, error) {
	upper := int64(1<<63 - 1)
	if !to.IsZero() {
		upper = to.UnixMilli()
	}
	rows, err := g.db.QueryContext(ctx,
		`SELECT `+measurementColumns+` FROM measurement
		 WHERE ts_unix_ms >= ? AND ts_unix_ms < ?
		 ORDER BY ts_unix_ms ASC, id ASC LIMIT ?`,
		from.UnixMilli(), upper, limit)
	if err != nil {
		return nil, readFailed("measurements between", err)
	}
	defer rows.Close()

	var out []domain.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, readFailed("measurements between", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailed("measurements between", err)
	}
	return out, nil
}

// LatestActionLogs returns the newest n entries, newest first.
func (g *SQLiteGateway) LatestActionLogs(ctx context.Context, n int) ([]domain.ActionLog, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, measurement_id, ts, channel, state, action, reason, send_failed, manual
		 FROM action_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, readFailed("latest action logs", err)
	}
	defer rows.Close()

	var out []domain.ActionLog
	for rows.Next() {
		var entry domain.ActionLog
		var ts, state, action string
		var channel int
		if err := rows.Scan(&entry.ID, &entry.MeasurementID, &ts, &channel, &state, &action,
			&entry.Reason, &entry.SendFailed, &entry.Manual); err != nil {
			return nil, readFailed("latest action logs", err)
		}
		entry.Timestamp = parseTime(ts)
		entry.Channel = domain.RelayChannel(channel)
		entry.State = domain.RelayState(state)
		entry.Action = domain.Action(action)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailed("latest action logs", err)
	}
	return out, nil
}

// PurgeBefore deletes measurements older than t together with their action
// logs and reports how many measurements were removed.
func (g *SQLiteGateway) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, writeFailed("purge", err)
	}
	defer tx.Rollback()

	cutoff := t.UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM action_log WHERE measurement_id IN (SELECT id FROM measurement WHERE ts_unix_ms < ?)`, cutoff); err != nil {
		return 0, writeFailed("purge action logs", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM measurement WHERE ts_unix_ms < ?`, cutoff)
	if err != nil {
		return 0, writeFailed("purge measurements", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, writeFailed("purge measurements", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, writeFailed("purge", err)
	}
	return n, nil
}

func (g *SQLiteGateway) Close() error {
	return g.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(row scanner) (*domain.Measurement, error) {
	var m domain.Measurement
	var ts, stage string
	err := row.Scan(&m.ID, &m.ConfigID, &ts, &m.PVVoltage, &m.PVCurrent, &m.PVPower,
		&m.CellVoltage[0], &m.CellVoltage[1], &m.CellVoltage[2], &m.TotalVoltage,
		&m.MaxCurrent, &m.EnergyWh, &m.Temperature, &m.StateOfCharge, &stage)
	if err != nil {
		return nil, err
	}
	m.Timestamp = parseTime(ts)
	m.ChargeStage = domain.ChargeStage(stage)
	return &m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func writeFailed(op string, err error) error {
	return &domain.PersistenceError{Kind: domain.WriteFailed, Op: op, Err: err}
}

func readFailed(op string, err error) error {
	return &domain.PersistenceError{Kind: domain.ReadFailed, Op: op, Err: err}
}

// ensure interface compliance
var _ port.PersistenceGateway = (*SQLiteGateway)(nil)
