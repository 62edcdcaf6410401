package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// RedisBusinessState stores business state as JSON documents in Redis.
// Active transactions of a station are indexed in a set so they can be listed
// without scanning.
type RedisBusinessState struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBusinessState wraps client. Charge point and connector records
// expire after ttl; zero keeps them forever. Transactions never expire.
func NewRedisBusinessState(client *redis.Client, ttl time.Duration) *RedisBusinessState {
	return &RedisBusinessState{client: client, ttl: ttl}
}

// Ping checks the connection to Redis.
func (r *RedisBusinessState) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

func (r *RedisBusinessState) Close() error {
	return r.client.Close()
}

func (r *RedisBusinessState) SetChargePointInfo(ctx context.Context, info *ChargePointInfo) error {
	return r.setJSON(ctx, chargePointKey(info.ClientID), info, r.ttl)
}

func (r *RedisBusinessState) GetChargePointInfo(ctx context.Context, clientID string) (*ChargePointInfo, error) {
	var info ChargePointInfo
	if err := r.getJSON(ctx, chargePointKey(clientID), &info); err != nil {
		return nil, fmt.Errorf("charge point %s: %w", clientID, err)
	}
	return &info, nil
}

func (r *RedisBusinessState) SetConnectorStatus(ctx context.Context, clientID string, status *ConnectorStatus) error {
	return r.setJSON(ctx, connectorKey(clientID, status.ConnectorID), status, r.ttl)
}

func (r *RedisBusinessState) GetConnectorStatus(ctx context.Context, clientID string, connectorID int) (*ConnectorStatus, error) {
	var status ConnectorStatus
	if err := r.getJSON(ctx, connectorKey(clientID, connectorID), &status); err != nil {
		return nil, fmt.Errorf("connector %d of %s: %w", connectorID, clientID, err)
	}
	return &status, nil
}

// CreateTransaction stores a new transaction and indexes it as active, both
// in one MULTI block.
func (r *RedisBusinessState) CreateTransaction(ctx context.Context, info *TransactionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, transactionKey(info.TransactionID), data, 0)
		pipe.SAdd(ctx, activeTransactionsKey(info.ClientID), info.TransactionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create transaction %d: %w", info.TransactionID, err)
	}
	log.Printf("STATE: Transaction %d of %s stored", info.TransactionID, info.ClientID)
	return nil
}

// UpdateTransaction overwrites a transaction; a stopped one leaves the active
// index.
func (r *RedisBusinessState) UpdateTransaction(ctx context.Context, info *TransactionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, transactionKey(info.TransactionID), data, 0)
		if info.Status != TransactionActive {
			pipe.SRem(ctx, activeTransactionsKey(info.ClientID), info.TransactionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", info.TransactionID, err)
	}
	return nil
}

func (r *RedisBusinessState) GetTransaction(ctx context.Context, transactionID int) (*TransactionInfo, error) {
	var info TransactionInfo
	if err := r.getJSON(ctx, transactionKey(transactionID), &info); err != nil {
		return nil, fmt.Errorf("transaction %d: %w", transactionID, err)
	}
	return &info, nil
}

func (r *RedisBusinessState) GetActiveTransactions(ctx context.Context, clientID string) ([]*TransactionInfo, error) {
	members, err := r.client.SMembers(ctx, activeTransactionsKey(clientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active transactions of %s: %w", clientID, err)
	}
	result := make([]*TransactionInfo, 0, len(members))
	for _, member := range members {
		id, err := strconv.Atoi(member)
		if err != nil {
			continue
		}
		info, err := r.GetTransaction(ctx, id)
		if err != nil {
			log.Printf("STATE: Skipping transaction %d of %s: %v", id, clientID, err)
			continue
		}
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TransactionID < result[j].TransactionID })
	return result, nil
}

func (r *RedisBusinessState) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (r *RedisBusinessState) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func chargePointKey(clientID string) string {
	return "chargepoint:" + clientID
}

func transactionKey(transactionID int) string {
	return fmt.Sprintf("transaction:%d", transactionID)
}

func activeTransactionsKey(clientID string) string {
	return "transactions:active:" + clientID
}
