package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/flavorfit/internal/chain"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS descriptions (
	base        TEXT PRIMARY KEY,
	version     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS parameters (
	base      TEXT NOT NULL,
	idx       INTEGER NOT NULL,
	name      TEXT NOT NULL,
	min       REAL NOT NULL,
	max       REAL NOT NULL,
	nuisance  INTEGER NOT NULL,
	discrete  INTEGER NOT NULL,
	prior     TEXT,
	PRIMARY KEY (base, idx),
	FOREIGN KEY (base) REFERENCES descriptions(base)
);

CREATE TABLE IF NOT EXISTS constraints (
	base  TEXT NOT NULL,
	idx   INTEGER NOT NULL,
	name  TEXT NOT NULL,
	PRIMARY KEY (base, idx),
	FOREIGN KEY (base) REFERENCES descriptions(base)
);

CREATE TABLE IF NOT EXISTS observables (
	base  TEXT NOT NULL,
	idx   INTEGER NOT NULL,
	name  TEXT NOT NULL,
	PRIMARY KEY (base, idx),
	FOREIGN KEY (base) REFERENCES descriptions(base)
);

CREATE TABLE IF NOT EXISTS samples (
	base           TEXT NOT NULL,
	seq            INTEGER NOT NULL,
	point          BLOB NOT NULL,
	log_posterior  REAL NOT NULL,
	PRIMARY KEY (base, seq)
);

CREATE TABLE IF NOT EXISTS modes (
	base           TEXT PRIMARY KEY,
	point          BLOB NOT NULL,
	log_posterior  REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS proposed_points (
	base           TEXT NOT NULL,
	seq            INTEGER NOT NULL,
	accepted       INTEGER NOT NULL,
	point          BLOB NOT NULL,
	log_posterior  REAL NOT NULL,
	PRIMARY KEY (base, seq)
);

CREATE TABLE IF NOT EXISTS proposed_observables (
	base            TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	log_likelihood  REAL NOT NULL,
	vals            BLOB,
	PRIMARY KEY (base, seq)
);

CREATE TABLE IF NOT EXISTS proposals (
	base         TEXT PRIMARY KEY,
	kernel_type  TEXT NOT NULL,
	dimension    INTEGER NOT NULL,
	payload      BLOB
);

CREATE TABLE IF NOT EXISTS rng_states (
	base   TEXT PRIMARY KEY,
	state  BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoint_log (
	checkpoint_id  TEXT PRIMARY KEY,
	base           TEXT NOT NULL,
	phase          TEXT NOT NULL,
	iterations     INTEGER NOT NULL,
	samples_total  INTEGER NOT NULL,
	efficiency     REAL NOT NULL,
	mode           REAL NOT NULL,
	kernel_type    TEXT,
	note           TEXT,
	created_at     TEXT NOT NULL
);
`

// #endregion schema

// ErrNotFound is returned when a data set is missing under a base.
var ErrNotFound = errors.New("data set not found")

// #region store-struct
// Store keeps chain checkpoints in SQLite, one group of data sets per base
// name. It satisfies chain.Store.
type Store struct {
	db *sql.DB
}

var _ chain.Store = (*Store)(nil)

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for the checkpoint log.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region transactions
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Atomic runs fn against a writer bound to a single transaction. Nothing fn
// writes is visible unless it returns nil.
func (s *Store) Atomic(fn func(w chain.Writer) error) error {
	return s.inTx(func(tx *sql.Tx) error { return fn(txWriter{tx: tx}) })
}

// txWriter is a chain.Writer whose writes all land in one transaction.
type txWriter struct {
	tx *sql.Tx
}

func (w txWriter) WriteDescription(base string, d chain.Description) error {
	return writeDescription(w.tx, base, d)
}

func (w txWriter) AppendHistory(base string, rec chain.HistoryRecord) error {
	return appendHistory(w.tx, base, rec)
}

func (w txWriter) WriteProposal(base string, ks chain.KernelState) error {
	return writeProposal(w.tx, base, ks)
}

func (w txWriter) WriteRNG(base string, state []byte) error {
	return writeRNG(w.tx, base, state)
}

// #endregion transactions

// #region description
// WriteDescription stores the parameter table. A base is described once.
func (s *Store) WriteDescription(base string, d chain.Description) error {
	return s.inTx(func(tx *sql.Tx) error { return writeDescription(tx, base, d) })
}

func writeDescription(tx *sql.Tx, base string, d chain.Description) error {
	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM descriptions WHERE base = ?`, base).Scan(&exists); err != nil {
		return fmt.Errorf("check description: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("description for %s already written", base)
	}

	_, err := tx.Exec(`INSERT INTO descriptions (base, version, created_at) VALUES (?, ?, ?)`,
		base, d.Version, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert description: %w", err)
	}
	for i, p := range d.Parameters {
		var prior any
		if i < len(d.Priors) && d.Priors[i] != "" {
			prior = d.Priors[i]
		}
		_, err = tx.Exec(
			`INSERT INTO parameters (base, idx, name, min, max, nuisance, discrete, prior)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			base, i, p.Name, p.Min, p.Max, boolInt(p.Nuisance), boolInt(p.Discrete), prior,
		)
		if err != nil {
			return fmt.Errorf("insert parameter %s: %w", p.Name, err)
		}
	}
	if err := insertNames(tx, "constraints", base, d.Constraints); err != nil {
		return err
	}
	return insertNames(tx, "observables", base, d.Observables)
}

func insertNames(tx *sql.Tx, table, base string, names []string) error {
	for i, n := range names {
		if _, err := tx.Exec(`INSERT INTO `+table+` (base, idx, name) VALUES (?, ?, ?)`, base, i, n); err != nil {
			return fmt.Errorf("insert %s %q: %w", table, n, err)
		}
	}
	return nil
}

// ReadDescription reads the parameter table under base.
func (s *Store) ReadDescription(base string) (chain.Description, error) {
	var d chain.Description
	err := s.db.QueryRow(`SELECT version FROM descriptions WHERE base = ?`, base).Scan(&d.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return chain.Description{}, fmt.Errorf("description %s: %w", base, ErrNotFound)
	}
	if err != nil {
		return chain.Description{}, fmt.Errorf("read description %s: %w", base, err)
	}

	rows, err := s.db.Query(
		`SELECT name, min, max, nuisance, discrete, prior FROM parameters WHERE base = ? ORDER BY idx`, base,
	)
	if err != nil {
		return chain.Description{}, fmt.Errorf("read parameters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p chain.ParameterDescriptor
		var nuisance, discrete int
		var prior sql.NullString
		if err := rows.Scan(&p.Name, &p.Min, &p.Max, &nuisance, &discrete, &prior); err != nil {
			return chain.Description{}, fmt.Errorf("scan parameter: %w", err)
		}
		p.Nuisance = nuisance != 0
		p.Discrete = discrete != 0
		d.Parameters = append(d.Parameters, p)
		d.Priors = append(d.Priors, prior.String)
	}
	if err := rows.Err(); err != nil {
		return chain.Description{}, err
	}

	if d.Constraints, err = s.readNames("constraints", base); err != nil {
		return chain.Description{}, err
	}
	if d.Observables, err = s.readNames("observables", base); err != nil {
		return chain.Description{}, err
	}
	return d, nil
}

func (s *Store) readNames(table, base string) ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM `+table+` WHERE base = ? ORDER BY idx`, base)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// #endregion description

// #region history
// AppendHistory appends samples and shadow records and overwrites the mode
// row, all in one transaction.
func (s *Store) AppendHistory(base string, rec chain.HistoryRecord) error {
	return s.inTx(func(tx *sql.Tx) error { return appendHistory(tx, base, rec) })
}

func appendHistory(tx *sql.Tx, base string, rec chain.HistoryRecord) error {
	seq, err := nextSeq(tx, "samples", base)
	if err != nil {
		return err
	}
	for i, row := range rec.Samples {
		if len(row) == 0 {
			return fmt.Errorf("sample %d is empty", i)
		}
		d := len(row) - 1
		_, err = tx.Exec(`INSERT INTO samples (base, seq, point, log_posterior) VALUES (?, ?, ?, ?)`,
			base, seq+i, encodePoint(row[:d]), row[d])
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}

	if len(rec.Mode) > 0 {
		d := len(rec.Mode) - 1
		_, err = tx.Exec(
			`INSERT INTO modes (base, point, log_posterior) VALUES (?, ?, ?)
			 ON CONFLICT(base) DO UPDATE SET point = excluded.point, log_posterior = excluded.log_posterior`,
			base, encodePoint(rec.Mode[:d]), rec.Mode[d],
		)
		if err != nil {
			return fmt.Errorf("write mode: %w", err)
		}
	}

	if len(rec.Proposed) > 0 {
		pseq, err := nextSeq(tx, "proposed_points", base)
		if err != nil {
			return err
		}
		for i, p := range rec.Proposed {
			_, err = tx.Exec(
				`INSERT INTO proposed_points (base, seq, accepted, point, log_posterior) VALUES (?, ?, ?, ?, ?)`,
				base, pseq+i, boolInt(p.Accepted), encodePoint(p.Point), p.LogPosterior,
			)
			if err != nil {
				return fmt.Errorf("insert proposed point: %w", err)
			}
		}
	}

	if len(rec.Observables) > 0 {
		oseq, err := nextSeq(tx, "proposed_observables", base)
		if err != nil {
			return err
		}
		for i, o := range rec.Observables {
			_, err = tx.Exec(
				`INSERT INTO proposed_observables (base, seq, log_likelihood, vals) VALUES (?, ?, ?, ?)`,
				base, oseq+i, o.LogLikelihood, encodePoint(o.Values),
			)
			if err != nil {
				return fmt.Errorf("insert proposed observables: %w", err)
			}
		}
	}

	return nil
}

func nextSeq(tx *sql.Tx, table, base string) (int, error) {
	var seq int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq) + 1, 0) FROM `+table+` WHERE base = ?`, base).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next %s seq: %w", table, err)
	}
	return seq, nil
}

// ReadSamples returns all sample rows (point..., log posterior) under base in
// the order they were appended.
func (s *Store) ReadSamples(base string, dimension int) ([][]float64, error) {
	rows, err := s.db.Query(`SELECT point, log_posterior FROM samples WHERE base = ? ORDER BY seq`, base)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	defer rows.Close()

	var out [][]float64
	for rows.Next() {
		var blob []byte
		var logPost float64
		if err := rows.Scan(&blob, &logPost); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		point := decodePoint(blob)
		if len(point) != dimension {
			return nil, fmt.Errorf("sample %d has dimension %d, want %d", len(out), len(point), dimension)
		}
		out = append(out, append(point, logPost))
	}
	return out, rows.Err()
}

// ReadMode returns the mode row under base.
func (s *Store) ReadMode(base string, dimension int) ([]float64, error) {
	var blob []byte
	var logPost float64
	err := s.db.QueryRow(`SELECT point, log_posterior FROM modes WHERE base = ?`, base).Scan(&blob, &logPost)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mode %s: %w", base, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read mode %s: %w", base, err)
	}
	point := decodePoint(blob)
	if len(point) != dimension {
		return nil, fmt.Errorf("mode has dimension %d, want %d", len(point), dimension)
	}
	return append(point, logPost), nil
}

// ReadProposed returns the proposed-points shadow history under base.
func (s *Store) ReadProposed(base string) ([]chain.ProposalRecord, error) {
	rows, err := s.db.Query(
		`SELECT accepted, point, log_posterior FROM proposed_points WHERE base = ? ORDER BY seq`, base,
	)
	if err != nil {
		return nil, fmt.Errorf("read proposed points: %w", err)
	}
	defer rows.Close()
	var out []chain.ProposalRecord
	for rows.Next() {
		var accepted int
		var blob []byte
		var rec chain.ProposalRecord
		if err := rows.Scan(&accepted, &blob, &rec.LogPosterior); err != nil {
			return nil, fmt.Errorf("scan proposed point: %w", err)
		}
		rec.Accepted = accepted != 0
		rec.Point = decodePoint(blob)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountSamples returns the number of stored samples under base.
func (s *Store) CountSamples(base string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM samples WHERE base = ?`, base).Scan(&n); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return n, nil
}

// ListBases returns every described base in name order.
func (s *Store) ListBases() ([]string, error) {
	rows, err := s.db.Query(`SELECT base FROM descriptions ORDER BY base`)
	if err != nil {
		return nil, fmt.Errorf("list bases: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan base: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// #endregion history

// #region proposal-and-rng
// WriteProposal overwrites the kernel state under base.
func (s *Store) WriteProposal(base string, ks chain.KernelState) error {
	return writeProposal(s.db, base, ks)
}

func writeProposal(e execer, base string, ks chain.KernelState) error {
	_, err := e.Exec(
		`INSERT INTO proposals (base, kernel_type, dimension, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(base) DO UPDATE SET kernel_type = excluded.kernel_type,
		   dimension = excluded.dimension, payload = excluded.payload`,
		base, ks.Type, ks.Dimension, ks.Payload,
	)
	if err != nil {
		return fmt.Errorf("write proposal: %w", err)
	}
	return nil
}

// ReadProposal reads the kernel state under base.
func (s *Store) ReadProposal(base string) (chain.KernelState, error) {
	var ks chain.KernelState
	err := s.db.QueryRow(`SELECT kernel_type, dimension, payload FROM proposals WHERE base = ?`, base).
		Scan(&ks.Type, &ks.Dimension, &ks.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return chain.KernelState{}, fmt.Errorf("proposal %s: %w", base, ErrNotFound)
	}
	if err != nil {
		return chain.KernelState{}, fmt.Errorf("read proposal %s: %w", base, err)
	}
	return ks, nil
}

// WriteRNG overwrites the generator state under base.
func (s *Store) WriteRNG(base string, state []byte) error {
	return writeRNG(s.db, base, state)
}

func writeRNG(e execer, base string, state []byte) error {
	_, err := e.Exec(
		`INSERT INTO rng_states (base, state) VALUES (?, ?)
		 ON CONFLICT(base) DO UPDATE SET state = excluded.state`,
		base, state,
	)
	if err != nil {
		return fmt.Errorf("write rng: %w", err)
	}
	return nil
}

// ReadRNG reads the generator state under base.
func (s *Store) ReadRNG(base string) ([]byte, error) {
	var state []byte
	err := s.db.QueryRow(`SELECT state FROM rng_states WHERE base = ?`, base).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rng %s: %w", base, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read rng %s: %w", base, err)
	}
	return state, nil
}

// #endregion proposal-and-rng

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
