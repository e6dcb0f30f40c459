package database

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/vincentbai/posetrace-agent/internal/models"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// ErrSessionNotFound is returned when a journal has no such session.
var ErrSessionNotFound = errors.New("session not found")

// Database is a crash-safe journal of committed capture frames. Every
// frame is written in one transaction, so the journal always holds whole
// frames only.
type Database struct {
	db *sql.DB
}

// SessionInfo summarizes one journaled session.
type SessionInfo struct {
	ID        string
	Scene     string
	CreatedAt time.Time
	NextFrame models.Frame
	Objects   int
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions(
	  id         TEXT    PRIMARY KEY,
	  scene      TEXT    NOT NULL,
	  created_at INTEGER NOT NULL,
	  next_frame INTEGER NOT NULL DEFAULT 0 CHECK (next_frame >= 0)
	);
	CREATE TABLE IF NOT EXISTS objects(
	  session_id TEXT    NOT NULL REFERENCES sessions(id),
	  ordinal    INTEGER NOT NULL,
	  name       TEXT    NOT NULL,
	  PRIMARY KEY (session_id, ordinal),
	  UNIQUE (session_id, name)
	);
	CREATE TABLE IF NOT EXISTS keyframes(
	  session_id TEXT    NOT NULL,
	  ordinal    INTEGER NOT NULL,
	  frame      INTEGER NOT NULL CHECK (frame >= 0),
	  -- IEEE 754 bit patterns, so -0.0 and every payload survive
	  tx INTEGER NOT NULL, ty INTEGER NOT NULL, tz INTEGER NOT NULL,
	  qw INTEGER NOT NULL, qx INTEGER NOT NULL, qy INTEGER NOT NULL, qz INTEGER NOT NULL,
	  PRIMARY KEY (session_id, ordinal, frame),
	  FOREIGN KEY (session_id, ordinal) REFERENCES objects(session_id, ordinal)
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// StartSession records a new session.
func (d *Database) StartSession(sessionID, scene string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	_, err := d.db.Exec(`INSERT INTO sessions(id, scene, created_at) VALUES(?,?,?)`,
		sessionID, scene, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// RegisterObjects appends names to the session's object list in one
// transaction.
func (d *Database) RegisterObjects(sessionID string, names []string) error {
	transaction, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	var ordinal int
	if err := transaction.QueryRow(`SELECT COUNT(*) FROM objects WHERE session_id = ?`, sessionID).Scan(&ordinal); err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to count objects: %w", err)
	}
	statement, err := transaction.Prepare(`INSERT INTO objects(session_id, ordinal, name) VALUES(?,?,?)`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for i, name := range names {
		if _, err := statement.Exec(sessionID, ordinal+i, name); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to insert object %q: %w", name, err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertFrame stores one keyframe per pose and advances the session's
// next frame, all in one transaction. Poses must name registered objects.
func (d *Database) InsertFrame(sessionID string, frame models.Frame, poses []models.Pose) error {
	transaction, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	result, err := transaction.Exec(`UPDATE sessions SET next_frame = ? WHERE id = ? AND next_frame <= ?`,
		int64(frame)+1, sessionID, int64(frame))
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to advance frame: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n != 1 {
		_ = transaction.Rollback()
		return fmt.Errorf("frame %d does not follow the journaled frames of session %s", frame, sessionID)
	}

	statement, err := transaction.Prepare(`INSERT INTO keyframes(session_id, ordinal, frame, tx, ty, tz, qw, qx, qy, qz)
	  SELECT ?, ordinal, ?, ?, ?, ?, ?, ?, ?, ? FROM objects WHERE session_id = ? AND name = ?`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for _, pose := range poses {
		tr, rot := pose.Transform.Translation, pose.Transform.Rotation
		result, err := statement.Exec(sessionID, int64(frame),
			bits(tr[0]), bits(tr[1]), bits(tr[2]), bits(rot.W), bits(rot.V[0]), bits(rot.V[1]), bits(rot.V[2]),
			sessionID, pose.Name)
		if err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil || n != 1 {
			_ = transaction.Rollback()
			return fmt.Errorf("object %q is not journaled for session %s", pose.Name, sessionID)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Sessions lists journaled sessions, newest first.
func (d *Database) Sessions() ([]SessionInfo, error) {
	rows, err := d.db.Query(`
	SELECT s.id, s.scene, s.created_at, s.next_frame,
	       (SELECT COUNT(*) FROM objects o WHERE o.session_id = s.id)
	FROM sessions s ORDER BY s.created_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var (
			info      SessionInfo
			createdAt int64
			nextFrame int64
		)
		if err := rows.Scan(&info.ID, &info.Scene, &createdAt, &nextFrame, &info.Objects); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.CreatedAt = time.UnixMilli(createdAt).UTC()
		info.NextFrame = models.Frame(nextFrame)
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// LoadSnapshot rebuilds the tracks of a journaled session.
func (d *Database) LoadSnapshot(sessionID string) (models.Snapshot, error) {
	snap := models.Snapshot{SessionID: sessionID, Tracks: []models.Track{}}
	var nextFrame int64
	err := d.db.QueryRow(`SELECT scene, next_frame FROM sessions WHERE id = ?`, sessionID).Scan(&snap.Scene, &nextFrame)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to query session: %w", err)
	}
	snap.NextFrame = models.Frame(nextFrame)

	objects, err := d.db.Query(`SELECT name FROM objects WHERE session_id = ? ORDER BY ordinal`, sessionID)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to query objects: %w", err)
	}
	index := make(map[int]int)
	for ordinal := 0; objects.Next(); ordinal++ {
		var name string
		if err := objects.Scan(&name); err != nil {
			objects.Close()
			return models.Snapshot{}, fmt.Errorf("failed to scan object: %w", err)
		}
		index[ordinal] = len(snap.Tracks)
		snap.Tracks = append(snap.Tracks, models.Track{Name: name, Keyframes: []models.Keyframe{}})
	}
	objects.Close()
	if err := objects.Err(); err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to iterate objects: %w", err)
	}

	rows, err := d.db.Query(`SELECT ordinal, frame, tx, ty, tz, qw, qx, qy, qz
	FROM keyframes WHERE session_id = ? ORDER BY ordinal, frame`, sessionID)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to query keyframes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ordinal int
			frame   int64
			v       [7]int64
		)
		if err := rows.Scan(&ordinal, &frame, &v[0], &v[1], &v[2], &v[3], &v[4], &v[5], &v[6]); err != nil {
			return models.Snapshot{}, fmt.Errorf("failed to scan keyframe: %w", err)
		}
		tr := mgl64.Vec3{float(v[0]), float(v[1]), float(v[2])}
		rot := mgl64.Quat{W: float(v[3]), V: mgl64.Vec3{float(v[4]), float(v[5]), float(v[6])}}
		i, ok := index[ordinal]
		if !ok {
			return models.Snapshot{}, fmt.Errorf("keyframe for unknown object ordinal %d", ordinal)
		}
		snap.Tracks[i].Keyframes = append(snap.Tracks[i].Keyframes, models.Keyframe{
			Frame:     models.Frame(frame),
			Transform: models.Transform{Translation: tr, Rotation: rot},
		})
	}
	if err := rows.Err(); err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to iterate keyframes: %w", err)
	}
	return snap, nil
}

func bits(f float64) int64 {
	return int64(math.Float64bits(f))
}

func float(b int64) float64 {
	return math.Float64frombits(uint64(b))
}
