package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/sync/singleflight"

	"stories-go/internal/database/migrations"
	"stories-go/internal/model"
	"stories-go/internal/stories"
)

// SQLiteStore implements stories.LocalStore on a single SQLite file.
// The database is opened lazily by Init; every operation calls Init first,
// so callers may skip it.
type SQLiteStore struct {
	path  string
	clock stories.Clock

	initGroup singleflight.Group
	mu        sync.RWMutex
	db        *sql.DB
}

// NewSQLiteStore creates a store backed by path, which can be a file path or ":memory:".
// Nothing is opened until the first Init.
func NewSQLiteStore(path string, clock stories.Clock) *SQLiteStore {
	if clock == nil {
		clock = stories.RealClock{}
	}
	return &SQLiteStore{path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs the store relies on.
// SQLite allows one writer, so the pool is limited to a single connection; this also keeps
// ":memory:" databases from splitting into one database per connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}

	return db, nil
}

// Init opens the database and brings its schema up to date.
// It is idempotent and safe for concurrent use: concurrent callers share one
// open attempt and all receive the same handle. A failed attempt is not
// remembered, so a later call retries.
func (s *SQLiteStore) Init(ctx context.Context) (*sql.DB, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	v, err, _ := s.initGroup.Do("init", func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.db != nil {
			return s.db, nil
		}

		db, err := OpenConnection(s.path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", stories.ErrStoreUnavailable, err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", stories.ErrStoreUnavailable, err)
		}
		if err := migrations.Up(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", stories.ErrStoreUnavailable, err)
		}

		s.db = db
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

// toMillis normalizes timestamps to millisecond precision for storage.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromMillis restores a stored timestamp in UTC.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullCoords(c *model.Coordinates) (sql.NullFloat64, sql.NullFloat64) {
	if c == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}, sql.NullFloat64{Float64: c.Lon, Valid: true}
}

func coordsFrom(lat, lon sql.NullFloat64) *model.Coordinates {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &model.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Story operations

const storyColumns = "id, author, description, photo_url, lat, lon, created_at, cached_at"

func scanStory(row rowScanner) (model.Story, error) {
	var (
		st                  model.Story
		lat, lon            sql.NullFloat64
		createdAt, cachedAt int64
	)
	if err := row.Scan(&st.ID, &st.Author, &st.Description, &st.PhotoURL, &lat, &lon, &createdAt, &cachedAt); err != nil {
		return model.Story{}, err
	}
	st.Location = coordsFrom(lat, lon)
	st.CreatedAt = fromMillis(createdAt)
	st.CachedAt = fromMillis(cachedAt)
	return st, nil
}

// UpsertEntities writes all stories in one transaction. Existing rows are replaced
// column for column, so a re-fetched story never keeps stale fields.
func (s *SQLiteStore) UpsertEntities(ctx context.Context, list []model.Story) error {
	if len(list) == 0 {
		return nil
	}
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: starting transaction: %v", stories.ErrWriteFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stories (`+storyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			author = excluded.author,
			description = excluded.description,
			photo_url = excluded.photo_url,
			lat = excluded.lat,
			lon = excluded.lon,
			created_at = excluded.created_at,
			cached_at = excluded.cached_at`)
	if err != nil {
		return fmt.Errorf("%w: preparing upsert: %v", stories.ErrWriteFailed, err)
	}
	defer stmt.Close()

	cachedAt := toMillis(s.clock.Now())
	for _, st := range list {
		lat, lon := nullCoords(st.Location)
		_, err := stmt.ExecContext(ctx, st.ID, st.Author, st.Description, st.PhotoURL,
			lat, lon, toMillis(st.CreatedAt), cachedAt)
		if err != nil {
			return fmt.Errorf("%w: upserting story %s: %v", stories.ErrWriteFailed, st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", stories.ErrWriteFailed, err)
	}
	return nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context) ([]model.Story, error) {
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT "+storyColumns+" FROM stories ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("listing stories: %w", err)
	}
	defer rows.Close()

	result := []model.Story{}
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning story: %w", err)
		}
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing stories: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.Story, error) {
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}

	st, err := scanStory(db.QueryRowContext(ctx, "SELECT "+storyColumns+" FROM stories WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not cached
		}
		return nil, fmt.Errorf("finding story %s: %w", id, err)
	}
	return &st, nil
}

// Favorite operations

const favoriteColumns = "id, author, description, photo_url, lat, lon, created_at, added_at"

func scanFavorite(row rowScanner) (model.Favorite, error) {
	var (
		fav                model.Favorite
		lat, lon           sql.NullFloat64
		createdAt, addedAt int64
	)
	if err := row.Scan(&fav.ID, &fav.Author, &fav.Description, &fav.PhotoURL, &lat, &lon, &createdAt, &addedAt); err != nil {
		return model.Favorite{}, err
	}
	fav.Location = coordsFrom(lat, lon)
	fav.CreatedAt = fromMillis(createdAt)
	fav.AddedAt = fromMillis(addedAt)
	return fav, nil
}

// AddFavorite stores a full copy of story. Favoriting the same id again refreshes
// the copy and its AddedAt.
func (s *SQLiteStore) AddFavorite(ctx context.Context, story model.Story) (*model.Favorite, error) {
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}

	addedAt := s.clock.Now()
	lat, lon := nullCoords(story.Location)
	_, err = db.ExecContext(ctx, `
		INSERT INTO favorites (`+favoriteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			author = excluded.author,
			description = excluded.description,
			photo_url = excluded.photo_url,
			lat = excluded.lat,
			lon = excluded.lon,
			created_at = excluded.created_at,
			added_at = excluded.added_at`,
		story.ID, story.Author, story.Description, story.PhotoURL, lat, lon,
		toMillis(story.CreatedAt), toMillis(addedAt))
	if err != nil {
		return nil, fmt.Errorf("%w: adding favorite %s: %v", stories.ErrWriteFailed, story.ID, err)
	}

	story.CachedAt = time.Time{}
	return &model.Favorite{Story: story, AddedAt: fromMillis(toMillis(addedAt))}, nil
}

func (s *SQLiteStore) RemoveFavorite(ctx context.Context, id string) error {
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM favorites WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: removing favorite %s: %v", stories.ErrWriteFailed, id, err)
	}
	return nil
}

func (s *SQLiteStore) ListFavorites(ctx context.Context) ([]model.Favorite, error) {
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT "+favoriteColumns+" FROM favorites ORDER BY added_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing favorites: %w", err)
	}
	defer rows.Close()

	result := []model.Favorite{}
	for rows.Next() {
		fav, err := scanFavorite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning favorite: %w", err)
		}
		result = append(result, fav)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing favorites: %w", err)
	}
	return result, nil
}

func (s *SQLiteStore) GetFavorite(ctx context.Context, id string) (*model.Favorite, error) {
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}

	fav, err := scanFavorite(db.QueryRowContext(ctx, "SELECT "+favoriteColumns+" FROM favorites WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not a favorite
		}
		return nil, fmt.Errorf("finding favorite %s: %w", id, err)
	}
	return &fav, nil
}

// Pending mutation operations

// EnqueueMutation appends m to the queue and fills in its ID and EnqueuedAt.
func (s *SQLiteStore) EnqueueMutation(ctx context.Context, m *model.PendingMutation) error {
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}

	enqueuedAt := fromMillis(toMillis(s.clock.Now()))
	lat, lon := nullCoords(m.Payload.Location)
	photo := m.Payload.Photo
	if photo == nil {
		photo = []byte{}
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO pending_mutations (kind, description, photo, photo_name, photo_type, lat, lon, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.Kind), m.Payload.Description, photo, m.Payload.PhotoName, m.Payload.PhotoType,
		lat, lon, toMillis(enqueuedAt))
	if err != nil {
		return fmt.Errorf("%w: enqueueing mutation: %v", stories.ErrWriteFailed, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading mutation id: %w", err)
	}
	m.ID = id
	m.EnqueuedAt = enqueuedAt
	return nil
}

func (s *SQLiteStore) ListMutations(ctx context.Context) ([]model.PendingMutation, error) {
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, description, photo, photo_name, photo_type, lat, lon, enqueued_at
		FROM pending_mutations
		ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing mutations: %w", err)
	}
	defer rows.Close()

	result := []model.PendingMutation{}
	for rows.Next() {
		var (
			m          model.PendingMutation
			kind       string
			lat, lon   sql.NullFloat64
			enqueuedAt int64
		)
		err := rows.Scan(&m.ID, &kind, &m.Payload.Description, &m.Payload.Photo,
			&m.Payload.PhotoName, &m.Payload.PhotoType, &lat, &lon, &enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning mutation: %w", err)
		}
		m.Kind = model.MutationKind(kind)
		m.Payload.Location = coordsFrom(lat, lon)
		m.EnqueuedAt = fromMillis(enqueuedAt)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing mutations: %w", err)
	}
	return result, nil
}

// DeleteMutations removes queue items by id in one transaction.
func (s *SQLiteStore) DeleteMutations(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM pending_mutations WHERE id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("%w: deleting mutations: %v", stories.ErrWriteFailed, err)
	}
	return nil
}

func (s *SQLiteStore) ClearMutations(ctx context.Context) error {
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM pending_mutations"); err != nil {
		return fmt.Errorf("%w: clearing mutations: %v", stories.ErrWriteFailed, err)
	}
	return nil
}

// ClearAll empties all three collections atomically.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: starting transaction: %v", stories.ErrWriteFailed, err)
	}
	defer tx.Rollback()

	for _, table := range []string{"stories", "favorites", "pending_mutations"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("%w: clearing %s: %v", stories.ErrWriteFailed, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", stories.ErrWriteFailed, err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the store schema matches this binary.
func (s *SQLiteStore) CheckMigrations(ctx context.Context) error {
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}
	return migrations.Check(db)
}

// Close closes the database if it was opened. The store can be re-initialized afterwards.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Compile-time check that SQLiteStore implements stories.LocalStore
var _ stories.LocalStore = (*SQLiteStore)(nil)
