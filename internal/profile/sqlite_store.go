package profile

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const profileSchema = `
CREATE TABLE IF NOT EXISTS calibration_profiles (
	profile_id                TEXT PRIMARY KEY,
	schema_version            INTEGER NOT NULL,
	created_at_ns             INTEGER NOT NULL,
	reference_tracking_system TEXT NOT NULL,
	target_tracking_system    TEXT NOT NULL,
	reference_serial          TEXT,
	target_serial             TEXT,
	rotation_roll_deg         REAL NOT NULL,
	rotation_yaw_deg          REAL NOT NULL,
	rotation_pitch_deg        REAL NOT NULL,
	translation_x_cm          REAL NOT NULL,
	translation_y_cm          REAL NOT NULL,
	translation_z_cm          REAL NOT NULL,
	rotation_deltas           INTEGER,
	translation_rank          INTEGER,
	translation_condition     REAL
);
CREATE INDEX IF NOT EXISTS idx_calibration_profiles_created
	ON calibration_profiles (created_at_ns DESC);
`

// SQLiteStore keeps every saved profile. Load returns the newest one, so
// older calibrations stay available for comparison.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open profile database")
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to execute %q", pragma)
		}
	}
	if _, err := db.Exec(profileSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create profile schema")
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save implements Store. Profiles without an ID get a new UUID.
func (s *SQLiteStore) Save(p *Profile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.SchemaVersion == 0 {
		p.SchemaVersion = SchemaVersion
	}

	query := `
		INSERT INTO calibration_profiles (
			profile_id, schema_version, created_at_ns,
			reference_tracking_system, target_tracking_system,
			reference_serial, target_serial,
			rotation_roll_deg, rotation_yaw_deg, rotation_pitch_deg,
			translation_x_cm, translation_y_cm, translation_z_cm,
			rotation_deltas, translation_rank, translation_condition
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		p.ID,
		p.SchemaVersion,
		p.CreatedAt.UnixNano(),
		p.ReferenceTrackingSystem,
		p.TargetTrackingSystem,
		nullString(p.ReferenceSerial),
		nullString(p.TargetSerial),
		p.Rotation.Roll,
		p.Rotation.Yaw,
		p.Rotation.Pitch,
		p.TranslationCM.X,
		p.TranslationCM.Y,
		p.TranslationCM.Z,
		p.RotationDeltas,
		p.TranslationRank,
		p.TranslationCondition,
	)
	if err != nil {
		return errors.Wrap(err, "insert profile")
	}
	return nil
}

const selectProfile = `
	SELECT profile_id, schema_version, created_at_ns,
	       reference_tracking_system, target_tracking_system,
	       reference_serial, target_serial,
	       rotation_roll_deg, rotation_yaw_deg, rotation_pitch_deg,
	       translation_x_cm, translation_y_cm, translation_z_cm,
	       rotation_deltas, translation_rank, translation_condition
	FROM calibration_profiles
	ORDER BY created_at_ns DESC, rowid DESC
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var createdAtNs int64
	var refSerial, targetSerial sql.NullString
	var deltas, rank sql.NullInt64
	var condition sql.NullFloat64

	err := row.Scan(
		&p.ID,
		&p.SchemaVersion,
		&createdAtNs,
		&p.ReferenceTrackingSystem,
		&p.TargetTrackingSystem,
		&refSerial,
		&targetSerial,
		&p.Rotation.Roll,
		&p.Rotation.Yaw,
		&p.Rotation.Pitch,
		&p.TranslationCM.X,
		&p.TranslationCM.Y,
		&p.TranslationCM.Z,
		&deltas,
		&rank,
		&condition,
	)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = time.Unix(0, createdAtNs).UTC()
	p.ReferenceSerial = refSerial.String
	p.TargetSerial = targetSerial.String
	p.RotationDeltas = int(deltas.Int64)
	p.TranslationRank = int(rank.Int64)
	p.TranslationCondition = condition.Float64
	return &p, nil
}

// Load implements Store.
func (s *SQLiteStore) Load() (*Profile, error) {
	p, err := scanProfile(s.db.QueryRow(selectProfile + " LIMIT 1"))
	if err == sql.ErrNoRows {
		return nil, ErrNoProfile
	}
	if err != nil {
		return nil, errors.Wrap(err, "get profile")
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid stored profile %s", p.ID)
	}
	return p, nil
}

// History returns up to limit profiles, newest first.
func (s *SQLiteStore) History(limit int) ([]*Profile, error) {
	rows, err := s.db.Query(selectProfile+" LIMIT ?", limit)
	if err != nil {
		return nil, errors.Wrap(err, "list profiles")
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan profile")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "list profiles")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
