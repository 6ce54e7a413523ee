package rsm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Op identifies a key/value command.
type Op string

const (
	OpSet  Op = "set"
	OpIncr Op = "incr"
)

// Command is the envelope serialized into the replicated log.
type Command struct {
	Op      Op              `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// SetPayload assigns a value to a key.
type SetPayload struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// IncrPayload increments a key by one, treating a missing key as zero.
type IncrPayload struct {
	Key string `json:"key"`
}

// EncodeSet builds an encoded set command.
func EncodeSet(key string, value int64) ([]byte, error) {
	payload, err := json.Marshal(SetPayload{Key: key, Value: value})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Command{Op: OpSet, Payload: payload})
}

// EncodeIncr builds an encoded incr command.
func EncodeIncr(key string) ([]byte, error) {
	payload, err := json.Marshal(IncrPayload{Key: key})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Command{Op: OpIncr, Payload: payload})
}

// KV is an integer key/value Machine.
type KV struct {
	mu   sync.RWMutex
	data map[string]int64
}

// NewKV creates an empty key/value machine.
func NewKV() *KV {
	return &KV{data: make(map[string]int64)}
}

func (kv *KV) Apply(ctx context.Context, command []byte) error {
	var cmd Command
	if err := json.Unmarshal(command, &cmd); err != nil {
		return &ApplyError{Command: command, Cause: fmt.Errorf("%w: %v", ErrBadCommand, err)}
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	switch cmd.Op {
	case OpSet:
		var p SetPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return &ApplyError{Command: command, Cause: fmt.Errorf("%w: %v", ErrBadCommand, err)}
		}
		kv.data[p.Key] = p.Value
	case OpIncr:
		var p IncrPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return &ApplyError{Command: command, Cause: fmt.Errorf("%w: %v", ErrBadCommand, err)}
		}
		kv.data[p.Key]++
	default:
		return &ApplyError{Command: command, Cause: fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)}
	}
	return nil
}

// Snapshot serializes the store as JSON. encoding/json sorts map keys,
// so equal states produce byte-equal snapshots.
func (kv *KV) Snapshot() ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return json.Marshal(kv.data)
}

// Get reads a single key, for tests and the demo.
func (kv *KV) Get(key string) (int64, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.data[key]
	return v, ok
}
