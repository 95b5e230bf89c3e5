// Package audit archives service audit entries as write-once blobs.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"portioncore/internal/blob"
	"portioncore/internal/core"
)

// Codec selects the on-blob encoding of an entry.
type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgpack Codec = "msgpack"
)

const (
	keyRoot      = "audit"
	systemEntity = "_system"
	stampLayout  = "20060102T150405.000000000Z"
)

// Valid reports whether c names a supported codec.
func (c Codec) Valid() bool { return c == CodecJSON || c == CodecMsgpack }

func (c Codec) contentType() string {
	if c == CodecMsgpack {
		return "application/msgpack"
	}
	return "application/json"
}

// Archive implements core.AuditRecorder on a blob.Store. Each entry becomes
// one blob keyed audit/<entity>/<timestamp>-<uuid>.<codec>, so listing an
// entity prefix yields its trail in time order.
type Archive struct {
	store    blob.Store
	codec    Codec
	logger   core.Logger
	failures atomic.Int64
}

// Option configures an Archive.
type Option func(*Archive)

// WithCodec sets the encoding for new entries. Existing blobs are decoded by
// their own extension.
func WithCodec(codec Codec) Option {
	return func(a *Archive) { a.codec = codec }
}

// WithLogger reports write failures to logger.
func WithLogger(logger core.Logger) Option {
	return func(a *Archive) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewArchive returns an archive writing JSON entries unless configured
// otherwise.
func NewArchive(store blob.Store, opts ...Option) (*Archive, error) {
	if store == nil {
		return nil, fmt.Errorf("audit archive requires a blob store")
	}
	a := &Archive{store: store, codec: CodecJSON, logger: discardLogger{}}
	for _, opt := range opts {
		opt(a)
	}
	if !a.codec.Valid() {
		return nil, fmt.Errorf("unknown audit codec %q", a.codec)
	}
	return a, nil
}

// Record writes entry. Failures are logged and counted, never returned to the
// service.
func (a *Archive) Record(ctx context.Context, entry core.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	payload, err := encode(a.codec, entry)
	if err != nil {
		a.fail("encode audit entry", entry, err)
		return
	}
	key := entryKey(entry, a.codec)
	_, err = a.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: a.codec.contentType(),
		Metadata: map[string]string{
			"operation": entry.Operation,
			"status":    string(entry.Status),
		},
	})
	if err != nil {
		a.fail("write audit entry", entry, err)
	}
}

// Entries returns the archived trail for entityID in time order. An empty
// entityID returns every entry.
func (a *Archive) Entries(ctx context.Context, entityID string) ([]core.AuditEntry, error) {
	prefix := keyRoot + "/"
	if entityID != "" {
		prefix += entitySegment(entityID) + "/"
	}
	infos, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	entries := make([]core.AuditEntry, 0, len(infos))
	for _, info := range infos {
		entry, err := a.read(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Failures reports how many entries could not be archived.
func (a *Archive) Failures() int64 { return a.failures.Load() }

func (a *Archive) read(ctx context.Context, key string) (core.AuditEntry, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return core.AuditEntry{}, fmt.Errorf("read audit entry %s: %w", key, err)
	}
	defer rc.Close()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return core.AuditEntry{}, fmt.Errorf("read audit entry %s: %w", key, err)
	}
	codec := Codec(strings.TrimPrefix(path.Ext(key), "."))
	entry, err := decode(codec, payload)
	if err != nil {
		return core.AuditEntry{}, fmt.Errorf("decode audit entry %s: %w", key, err)
	}
	return entry, nil
}

func (a *Archive) fail(msg string, entry core.AuditEntry, err error) {
	a.failures.Add(1)
	a.logger.Error(msg, "operation", entry.Operation, "entity_id", entry.EntityID, "error", err)
}

func entryKey(entry core.AuditEntry, codec Codec) string {
	stamp := entry.Timestamp.UTC().Format(stampLayout)
	return fmt.Sprintf("%s/%s/%s-%s.%s", keyRoot, entitySegment(entry.EntityID), stamp, uuid.NewString(), codec)
}

func entitySegment(entityID string) string {
	if entityID == "" {
		return systemEntity
	}
	return url.PathEscape(entityID)
}

func encode(codec Codec, entry core.AuditEntry) ([]byte, error) {
	switch codec {
	case CodecMsgpack:
		return msgpack.Marshal(entry)
	case CodecJSON:
		return json.Marshal(entry)
	}
	return nil, fmt.Errorf("unknown audit codec %q", codec)
}

func decode(codec Codec, payload []byte) (core.AuditEntry, error) {
	var entry core.AuditEntry
	var err error
	switch codec {
	case CodecMsgpack:
		err = msgpack.Unmarshal(payload, &entry)
	case CodecJSON:
		err = json.Unmarshal(payload, &entry)
	default:
		err = fmt.Errorf("unknown audit codec %q", codec)
	}
	return entry, err
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
