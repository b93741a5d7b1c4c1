package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const workflowRecordVersionV1 = 1

var (
	ErrWorkflowNotFound    = errors.New("workflow record not found")
	ErrWorkflowExpired     = errors.New("workflow record expired")
	ErrWorkflowUnavailable = errors.New("workflow redis unavailable")
)

// WorkflowKind discriminates the workflow families sharing one store.
type WorkflowKind uint8

const (
	KindEnrollment WorkflowKind = 1
	KindTransfer   WorkflowKind = 2
)

// WorkflowRecord is the full suspended state of one workflow: identity of the
// login being worked on, the paused dialog blobs, and stage-specific payloads
// encoded by the owning flow. The PIN itself is never part of the record.
type WorkflowRecord struct {
	Kind    WorkflowKind
	Stage   string
	PINTier uint8

	UserID      string
	BankLoginID string
	UserLoginID string
	BankCode    string
	LoginName   string
	Endpoint    string
	DisplayName string

	TANMechanism string
	TANMedium    string
	AccountID    string

	// Snapshot and Continuation are the paused dialog pair. Continuation is
	// single-use; consuming the record retires both.
	Snapshot     []byte
	Continuation []byte

	// InitTANJSON, MechanismsJSON, MediaJSON, TransferJSON and MessagesJSON
	// carry flow-owned payloads opaque to the store.
	InitTANJSON    []byte
	MechanismsJSON []byte
	MediaJSON      []byte
	TransferJSON   []byte
	MessagesJSON   []byte

	ExpiresAt int64
}

// WorkflowStore reads and writes workflow records in Redis.
type WorkflowStore struct {
	redis  *redis.Client
	prefix string
}

func NewWorkflowStore(redisClient *redis.Client, prefix string) *WorkflowStore {
	return &WorkflowStore{redis: redisClient, prefix: prefix}
}

func (s *WorkflowStore) key(id string) string {
	return s.prefix + ":" + id
}

// Save writes the record under the given TTL.
func (s *WorkflowStore) Save(ctx context.Context, id string, record *WorkflowRecord, ttl time.Duration) error {
	encoded, err := encodeWorkflowRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWorkflowUnavailable, err)
	}

	return nil
}

// Get reads a record without consuming it. Expired records are deleted and
// reported as ErrWorkflowExpired.
func (s *WorkflowStore) Get(ctx context.Context, id string) (*WorkflowRecord, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrWorkflowUnavailable, err)
	}
	return s.decodeLive(ctx, id, data)
}

// Consume atomically removes and returns a record. Two racing resumptions
// see exactly one winner; the loser gets ErrWorkflowNotFound.
func (s *WorkflowStore) Consume(ctx context.Context, id string) (*WorkflowRecord, error) {
	data, err := s.redis.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrWorkflowUnavailable, err)
	}
	return s.decodeLive(ctx, id, data)
}

// Delete removes a record. Deleting an absent record is not an error.
func (s *WorkflowStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWorkflowUnavailable, err)
	}
	return nil
}

func (s *WorkflowStore) decodeLive(ctx context.Context, id string, data []byte) (*WorkflowRecord, error) {
	record, err := decodeWorkflowRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_ = s.redis.Del(ctx, s.key(id)).Err()
		return nil, ErrWorkflowExpired
	}
	return record, nil
}

func encodeWorkflowRecord(record *WorkflowRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(workflowRecordVersionV1)
	buf.WriteByte(byte(record.Kind))
	buf.WriteByte(record.PINTier)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, s := range []string{
		record.Stage,
		record.UserID,
		record.BankLoginID,
		record.UserLoginID,
		record.BankCode,
		record.LoginName,
		record.Endpoint,
		record.DisplayName,
		record.TANMechanism,
		record.TANMedium,
		record.AccountID,
	} {
		if err := writeWorkflowString(&buf, s); err != nil {
			return nil, err
		}
	}

	for _, b := range [][]byte{
		record.Snapshot,
		record.Continuation,
		record.InitTANJSON,
		record.MechanismsJSON,
		record.MediaJSON,
		record.TransferJSON,
		record.MessagesJSON,
	} {
		if err := writeWorkflowBytes(&buf, b); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeWorkflowRecord(data []byte) (*WorkflowRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != workflowRecordVersionV1 {
		return nil, errors.New("invalid workflow record version")
	}

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	pinTier, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &WorkflowRecord{
		Kind:    WorkflowKind(kind),
		PINTier: pinTier,
	}

	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, target := range []*string{
		&record.Stage,
		&record.UserID,
		&record.BankLoginID,
		&record.UserLoginID,
		&record.BankCode,
		&record.LoginName,
		&record.Endpoint,
		&record.DisplayName,
		&record.TANMechanism,
		&record.TANMedium,
		&record.AccountID,
	} {
		if *target, err = readWorkflowString(reader); err != nil {
			return nil, err
		}
	}

	for _, target := range []*[]byte{
		&record.Snapshot,
		&record.Continuation,
		&record.InitTANJSON,
		&record.MechanismsJSON,
		&record.MediaJSON,
		&record.TransferJSON,
		&record.MessagesJSON,
	} {
		if *target, err = readWorkflowBytes(reader); err != nil {
			return nil, err
		}
	}

	return record, nil
}

func writeWorkflowString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("workflow record string field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readWorkflowString(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func writeWorkflowBytes(buf *bytes.Buffer, b []byte) error {
	if len(b) > 1<<24 {
		return errors.New("workflow record blob field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readWorkflowBytes(reader *bytes.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return nil, err
	}
	return raw, nil
}
