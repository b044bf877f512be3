package history

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/syeo66/playlistscope/errors"
	"github.com/syeo66/playlistscope/models"
)

// Connection pool constants
const (
	MaxOpenConns        = 10
	MaxIdleConns        = 2
	ConnMaxLifetime     = 30 * time.Minute
	ConnMaxIdleTime     = 5 * time.Minute
	HealthCheckInterval = 30 * time.Second
)

const timestampLayout = "2006-01-02 15:04:05"

// Entry kinds
const (
	KindAnalysis   = "analysis"
	KindSuggestion = "suggestion"
)

// Store persists analysis and suggestion runs per library user.
type Store struct {
	conn         *sql.DB
	logger       *logrus.Logger
	mu           sync.RWMutex
	shutdownChan chan struct{}
}

func New(dbPath string, logger *logrus.Logger) (*Store, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryDatabase, "CONNECTION_FAILED", "failed to open history database").
			WithContext("path", dbPath)
	}

	conn.SetMaxOpenConns(MaxOpenConns)
	conn.SetMaxIdleConns(MaxIdleConns)
	conn.SetConnMaxLifetime(ConnMaxLifetime)
	conn.SetConnMaxIdleTime(ConnMaxIdleTime)

	if err := conn.Ping(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryDatabase, "CONNECTION_FAILED", "failed to ping history database").
			WithContext("path", dbPath)
	}

	s := &Store{
		conn:         conn,
		logger:       logger,
		shutdownChan: make(chan struct{}),
	}

	if err := s.createTables(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryDatabase, "MIGRATION_FAILED", "failed to create history tables").
			WithContext("path", dbPath)
	}

	go s.healthCheckLoop()

	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS history (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user_id ON history(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_kind ON history(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_history_created_at ON history(created_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return errors.Wrap(err, errors.CategoryDatabase, "MIGRATION_FAILED", "failed to execute table creation query").
				WithContext("query", query)
		}
	}

	return nil
}

// Record stores a new run. The payload is marshalled to JSON and kept
// verbatim, so older entries survive later model changes.
func (s *Store) Record(userID, kind, name string, payload interface{}) (*models.HistoryEntry, error) {
	if userID == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "userID")
	}
	if kind != KindAnalysis && kind != KindSuggestion {
		return nil, errors.ErrValidationFailed.WithContext("field", "kind").
			WithContext("kind", kind)
	}
	if name == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "name")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryDatabase, "MARSHAL_FAILED", "failed to marshal history payload").
			WithContext("kind", kind).
			WithContext("name", name)
	}

	entry := &models.HistoryEntry{
		ID:        uuid.New().String(),
		Kind:      kind,
		Name:      name,
		Payload:   string(body),
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.conn.Exec(`INSERT INTO history (id, user_id, kind, name, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, userID, entry.Kind, entry.Name, entry.Payload, entry.CreatedAt.Format(timestampLayout))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryDatabase, "QUERY_FAILED", "failed to insert history entry").
			WithContext("userID", userID).
			WithContext("kind", kind)
	}

	s.logger.WithFields(logrus.Fields{
		"id":   entry.ID,
		"kind": entry.Kind,
		"name": entry.Name,
	}).Debug("Recorded history entry")

	return entry, nil
}

// List returns the user's entries newest first. An empty kind returns
// every kind.
func (s *Store) List(userID, kind string) ([]models.HistoryEntry, error) {
	if userID == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "userID")
	}

	query := `SELECT id, kind, name, payload, created_at FROM history WHERE user_id = ? ORDER BY created_at DESC, id`
	args := []interface{}{userID}
	if kind != "" {
		query = `SELECT id, kind, name, payload, created_at FROM history WHERE user_id = ? AND kind = ? ORDER BY created_at DESC, id`
		args = append(args, kind)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryDatabase, "QUERY_FAILED", "failed to query history").
			WithContext("userID", userID)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var entry models.HistoryEntry
		var createdAtStr string
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.Name, &entry.Payload, &createdAtStr); err != nil {
			s.logger.WithError(err).WithField("userID", userID).Error("Failed to scan history entry")
			continue
		}
		entry.CreatedAt, _ = time.Parse(timestampLayout, createdAtStr)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryDatabase, "QUERY_FAILED", "error occurred during history iteration").
			WithContext("userID", userID)
	}

	return entries, nil
}

// Get returns one entry by ID.
func (s *Store) Get(userID, id string) (*models.HistoryEntry, error) {
	if userID == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "userID")
	}
	if id == "" {
		return nil, errors.ErrValidationFailed.WithContext("field", "id")
	}

	var entry models.HistoryEntry
	var createdAtStr string
	err := s.conn.QueryRow(`SELECT id, kind, name, payload, created_at FROM history WHERE user_id = ? AND id = ?`, userID, id).
		Scan(&entry.ID, &entry.Kind, &entry.Name, &entry.Payload, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, errors.ErrEntryNotFound.WithContext("id", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryDatabase, "QUERY_FAILED", "failed to query history entry").
			WithContext("id", id)
	}
	entry.CreatedAt, _ = time.Parse(timestampLayout, createdAtStr)

	return &entry, nil
}

// Delete removes one entry by ID.
func (s *Store) Delete(userID, id string) error {
	if userID == "" {
		return errors.ErrValidationFailed.WithContext("field", "userID")
	}
	if id == "" {
		return errors.ErrValidationFailed.WithContext("field", "id")
	}

	result, err := s.conn.Exec(`DELETE FROM history WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return errors.Wrap(err, errors.CategoryDatabase, "QUERY_FAILED", "failed to delete history entry").
			WithContext("id", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.CategoryDatabase, "QUERY_FAILED", "failed to check deleted rows").
			WithContext("id", id)
	}
	if affected == 0 {
		return errors.ErrEntryNotFound.WithContext("id", id)
	}

	s.logger.WithField("id", id).Debug("Deleted history entry")
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.shutdownChan:
		// Already closed
	default:
		close(s.shutdownChan)
	}

	if err := s.conn.Close(); err != nil {
		return errors.Wrap(err, errors.CategoryDatabase, "CLOSE_FAILED", "failed to close history database")
	}
	return nil
}

func (s *Store) healthCheckLoop() {
	ticker := time.NewTicker(HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.Ping(); err != nil {
				s.logger.WithError(err).Error("History database health check failed")
			}
		case <-s.shutdownChan:
			s.logger.Debug("History database health check loop shutting down")
			return
		}
	}
}
