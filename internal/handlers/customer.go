package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	apperrors "natsgate/pkg/errors"
)

var ErrCustomerNotFound = apperrors.ErrNotFound.WithMessage("customer not found")

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type CustomerRepository interface {
	Get(ctx context.Context, id string) (*Customer, error)
	Save(ctx context.Context, c *Customer) error
}

// RedisCustomerRepository stores customers as JSON under keyPrefix+id.
type RedisCustomerRepository struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisCustomerRepository(client redis.UniversalClient, keyPrefix string) *RedisCustomerRepository {
	return &RedisCustomerRepository{client: client, keyPrefix: keyPrefix}
}

func (r *RedisCustomerRepository) key(id string) string {
	return r.keyPrefix + id
}

func (r *RedisCustomerRepository) Get(ctx context.Context, id string) (*Customer, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer %s: %w", id, err)
	}

	var c Customer
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode customer %s: %w", id, err)
	}
	return &c, nil
}

func (r *RedisCustomerRepository) Save(ctx context.Context, c *Customer) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode customer %s: %w", c.ID, err)
	}
	if err := r.client.Set(ctx, r.key(c.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save customer %s: %w", c.ID, err)
	}
	return nil
}

// MemoryCustomerRepository backs the handlers when Redis is not configured.
type MemoryCustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]Customer
}

func NewMemoryCustomerRepository(seed ...Customer) *MemoryCustomerRepository {
	r := &MemoryCustomerRepository{customers: make(map[string]Customer, len(seed))}
	for _, c := range seed {
		r.customers[c.ID] = c
	}
	return r
}

func (r *MemoryCustomerRepository) Get(_ context.Context, id string) (*Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return &c, nil
}

func (r *MemoryCustomerRepository) Save(_ context.Context, c *Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers[c.ID] = *c
	return nil
}

// SampleCustomers seeds development setups.
func SampleCustomers() []Customer {
	return []Customer{
		{ID: "41", Name: "Ada Lovelace", Email: "ada@example.com"},
		{ID: "42", Name: "Alan Turing", Email: "alan@example.com"},
	}
}
