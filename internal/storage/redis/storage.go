package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/provisioner/internal/model"
	"github.com/mcoot/provisioner/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.OpTimeout > 0 {
		opts.ReadTimeout = cfg.OpTimeout
		opts.WriteTimeout = cfg.OpTimeout
	}

	client := redis.NewClient(opts)

	// Verify connection
	pingTimeout := cfg.DialTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Account operations

func (s *Storage) SaveAccount(ctx context.Context, account *model.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}

	email := storage.NormalizeEmail(account.Email)

	// Use pipeline for atomic save + index update
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, accountKey(email), data, 0) // No TTL
	pipe.SAdd(ctx, accountsIndexKey(), email)
	if account.TaskID != "" {
		pipe.SAdd(ctx, taskAccountsIndexKey(account.TaskID), email)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetAccount(ctx context.Context, email string) (*model.Account, error) {
	data, err := s.client.Get(ctx, accountKey(storage.NormalizeEmail(email))).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrAccountNotFound
		}
		return nil, err
	}

	var account model.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Storage) ListAccounts(ctx context.Context, filter storage.AccountFilter) ([]*model.Account, error) {
	indexKey := accountsIndexKey()
	if filter.TaskID != "" {
		indexKey = taskAccountsIndexKey(filter.TaskID)
	}

	emails, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return []*model.Account{}, nil
	}

	keys := make([]string, len(emails))
	for i, e := range emails {
		keys[i] = accountKey(e)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	accounts := make([]*model.Account, 0, len(values))
	for _, val := range values {
		if val == nil {
			continue // Deleted since the index was read
		}
		var account model.Account
		if err := json.Unmarshal([]byte(val.(string)), &account); err != nil {
			continue // Skip invalid data
		}
		if filter.Match(&account) {
			accounts = append(accounts, &account)
		}
	}

	storage.SortAccounts(accounts)
	return accounts, nil
}

func (s *Storage) MarkAccountUsed(ctx context.Context, email string) error {
	key := accountKey(storage.NormalizeEmail(email))

	// WATCH the key so a concurrent save is not overwritten with stale data
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return model.ErrAccountNotFound
			}
			return err
		}

		var account model.Account
		if err := json.Unmarshal(data, &account); err != nil {
			return err
		}
		account.Used = true
		updated, err := json.Marshal(&account)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
}

func (s *Storage) DeleteAccount(ctx context.Context, email string) error {
	email = storage.NormalizeEmail(email)

	account, err := s.GetAccount(ctx, email)
	if errors.Is(err, model.ErrAccountNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, accountKey(email))
	pipe.SRem(ctx, accountsIndexKey(), email)
	if account.TaskID != "" {
		pipe.SRem(ctx, taskAccountsIndexKey(account.TaskID), email)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Task operations

func (s *Storage) SaveTask(ctx context.Context, task *model.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	// Running tasks never expire; finished ones are kept for TaskTTL
	var ttl time.Duration
	if task.IsTerminal() {
		ttl = s.cfg.TaskTTL
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, taskKey(task.ID), data, ttl)
	pipe.SAdd(ctx, tasksIndexKey(), string(task.ID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetTask(ctx context.Context, id model.TaskID) (*model.Task, error) {
	data, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrTaskNotFound
		}
		return nil, err
	}

	var task model.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *Storage) ListTasks(ctx context.Context) ([]*model.Task, error) {
	ids, err := s.client.SMembers(ctx, tasksIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*model.Task{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(model.TaskID(id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*model.Task, 0, len(values))
	var expired []any
	for i, val := range values {
		if val == nil {
			expired = append(expired, ids[i])
			continue
		}
		var task model.Task
		if err := json.Unmarshal([]byte(val.(string)), &task); err != nil {
			continue // Skip invalid data
		}
		tasks = append(tasks, &task)
	}

	// Prune ids whose records have expired
	if len(expired) > 0 {
		_ = s.client.SRem(ctx, tasksIndexKey(), expired...).Err()
	}

	storage.SortTasks(tasks)
	return tasks, nil
}
