// Package postgres implements store.Store on PostgreSQL through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pentestdesk/internal/models"
	"pentestdesk/internal/realtime"
	"pentestdesk/internal/store"
)

// Connect opens the gorm handle and pings the server.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}

type Store struct {
	db  *gorm.DB
	pub realtime.Publisher
	lg  *zap.SugaredLogger
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB, pub realtime.Publisher, lg *zap.SugaredLogger) *Store {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	return &Store{db: db, pub: pub, lg: lg, now: time.Now}
}

func change(table string, typ realtime.EventType, newRow, oldRow any) realtime.Event {
	ev := realtime.Event{Table: table, Type: typ, CommitTimestamp: time.Now().UTC()}
	if newRow != nil {
		ev.New = realtime.NewRecord(newRow)
	}
	if oldRow != nil {
		ev.Old = realtime.NewRecord(oldRow)
	}
	return ev
}

// publish runs after commit; a failed publish never fails the mutation.
func (s *Store) publish(ctx context.Context, events ...realtime.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		if err := s.pub.Publish(ctx, ev); err != nil {
			s.lg.Warnw("publish change event failed", "table", ev.Table, "type", ev.Type, "error", err)
		}
	}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case isUniqueViolation(err):
		return store.ErrConflict
	case isForeignKeyViolation(err):
		return store.ErrNotFound
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
