package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/ports"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrDeliveryNotFound is returned when acking or releasing a row that no
// longer exists.
var ErrDeliveryNotFound = errors.New("queue message not found")

var onConflictDoNothing = clause.OnConflict{DoNothing: true}

// QueueMessage is a row of the queue_messages table.
type QueueMessage struct {
	Seq             int64             `gorm:"primaryKey;autoIncrement"`
	Queue           string            `gorm:"size:255;not null;index:idx_queue_messages_claim,priority:1"`
	MessageID       uuid.UUID         `gorm:"type:uuid;not null"`
	CorrelationID   string            `gorm:"size:255"`
	ResponseAddress string            `gorm:"size:255"`
	ContentType     string            `gorm:"size:255"`
	Headers         map[string]string `gorm:"type:jsonb;serializer:json"`
	Body            []byte
	Attempts        int       `gorm:"not null;default:0"`
	VisibleAt       time.Time `gorm:"not null;default:now();index:idx_queue_messages_claim,priority:2"`
	CreatedAt       time.Time
}

func (QueueMessage) TableName() string { return "queue_messages" }

// Queue is a row of the queues table.
type Queue struct {
	Name      string `gorm:"primaryKey;size:255"`
	Temporary bool
	CreatedAt time.Time
}

func (Queue) TableName() string { return "queues" }

// Binding attaches a subscriber queue to a topic.
type Binding struct {
	Topic string `gorm:"primaryKey;size:255"`
	Queue string `gorm:"primaryKey;size:255"`
}

func (Binding) TableName() string { return "queue_bindings" }

// Models lists every table the repository needs, for AutoMigrate.
func Models() []any {
	return []any{&Queue{}, &Binding{}, &QueueMessage{}}
}

// Repository implements ports.QueueRepository using PostgreSQL.
type Repository struct {
	db *gorm.DB
}

// New opens a PostgreSQL connection and returns a Repository.
func New(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Repository{db: db}, nil
}

// NewFromDB wraps an existing gorm connection.
func NewFromDB(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the queue tables.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(Models()...)
}

// Close closes the underlying database connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DeclareQueue inserts the queue row unless it exists.
func (r *Repository) DeclareQueue(ctx context.Context, name string, temporary bool) error {
	err := r.db.WithContext(ctx).
		Clauses(onConflictDoNothing).
		Create(&Queue{Name: name, Temporary: temporary}).Error
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// Subscribe declares queue and binds it to topic inside a single transaction.
func (r *Repository) Subscribe(ctx context.Context, topic, queue string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(onConflictDoNothing).Create(&Queue{Name: queue}).Error; err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := tx.Clauses(onConflictDoNothing).Create(&Binding{Topic: topic, Queue: queue}).Error; err != nil {
			return fmt.Errorf("bind %s to %s: %w", queue, topic, err)
		}
		return nil
	})
}

// Enqueue inserts msg as a visible row of queue.
func (r *Repository) Enqueue(ctx context.Context, queue string, msg domain.Message) error {
	row := toRow(queue, msg)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

// Publish inserts one row per queue bound to topic.
func (r *Repository) Publish(ctx context.Context, topic string, msg domain.Message) (int, error) {
	var n int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bindings []Binding
		if err := tx.Where("topic = ?", topic).Find(&bindings).Error; err != nil {
			return fmt.Errorf("query bindings: %w", err)
		}
		if len(bindings) == 0 {
			return nil
		}

		rows := make([]QueueMessage, 0, len(bindings))
		for _, b := range bindings {
			rows = append(rows, toRow(b.Queue, msg))
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		n = len(rows)
		return nil
	})
	return n, err
}

// Visibility is always judged by the database clock so producers and
// consumers on different hosts agree on it.

// claimQuery selects visible rows of queue, oldest first, locking them and
// skipping rows another consumer holds.
func claimQuery(tx *gorm.DB, queue string, limit int) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("queue = ? AND visible_at <= now()", queue).
		Order("seq").
		Limit(limit)
}

// leaseUpdate hides the rows in seqs for lease.
func leaseUpdate(tx *gorm.DB, seqs []int64, lease time.Duration) *gorm.DB {
	return tx.Model(&QueueMessage{}).
		Where("seq IN ?", seqs).
		Update("visible_at", gorm.Expr("now() + make_interval(secs => ?)", lease.Seconds()))
}

// releaseUpdate makes the row tag visible again and counts the attempt.
func releaseUpdate(tx *gorm.DB, tag int64) *gorm.DB {
	return tx.Model(&QueueMessage{}).Where("seq = ?", tag).Updates(map[string]any{
		"visible_at": gorm.Expr("now()"),
		"attempts":   gorm.Expr("attempts + 1"),
	})
}

// Claim leases up to limit visible messages by pushing their visible_at
// lease into the future.
func (r *Repository) Claim(ctx context.Context, queue string, limit int, lease time.Duration) ([]ports.Delivery, error) {
	var rows []QueueMessage

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claimQuery(tx, queue, limit).Find(&rows).Error; err != nil {
			return fmt.Errorf("query visible: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		seqs := make([]int64, len(rows))
		for i, row := range rows {
			seqs[i] = row.Seq
		}
		if err := leaseUpdate(tx, seqs, lease).Error; err != nil {
			return fmt.Errorf("lease messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ports.Delivery, 0, len(rows))
	for _, row := range rows {
		out = append(out, ports.Delivery{Tag: row.Seq, Message: fromRow(row)})
	}
	return out, nil
}

// Ack deletes a claimed row.
func (r *Repository) Ack(ctx context.Context, tag int64) error {
	res := r.db.WithContext(ctx).Delete(&QueueMessage{}, tag)
	if res.Error != nil {
		return fmt.Errorf("delete message %d: %w", tag, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// Release makes a claimed row visible again.
func (r *Repository) Release(ctx context.Context, tag int64) error {
	res := releaseUpdate(r.db.WithContext(ctx), tag)
	if res.Error != nil {
		return fmt.Errorf("release message %d: %w", tag, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// DropQueue removes queue together with its messages and bindings.
func (r *Repository) DropQueue(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("queue = ?", name).Delete(&QueueMessage{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Where("queue = ?", name).Delete(&Binding{}).Error; err != nil {
			return fmt.Errorf("delete bindings: %w", err)
		}
		if err := tx.Where("name = ?", name).Delete(&Queue{}).Error; err != nil {
			return fmt.Errorf("delete queue: %w", err)
		}
		return nil
	})
}

func toRow(queue string, msg domain.Message) QueueMessage {
	return QueueMessage{
		Queue:           queue,
		MessageID:       msg.ID,
		CorrelationID:   msg.CorrelationID,
		ResponseAddress: msg.ResponseAddress,
		ContentType:     msg.ContentType,
		Headers:         msg.Headers,
		Body:            msg.Body,
		CreatedAt:       msg.CreatedAt,
	}
}

func fromRow(row QueueMessage) domain.Message {
	return domain.Message{
		ID:              row.MessageID,
		CorrelationID:   row.CorrelationID,
		ResponseAddress: row.ResponseAddress,
		ContentType:     row.ContentType,
		Headers:         row.Headers,
		Body:            row.Body,
		CreatedAt:       row.CreatedAt,
	}
}
