// Package storage хранит архивы записей отладчика в BadgerDB.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/annel0/rewind/internal/analysis"
	"github.com/annel0/rewind/internal/logging"
	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrArchiveNotFound архив записи с таким индексом не сохранён
	ErrArchiveNotFound = errors.New("storage: archive not found")
	// ErrNotReady хранилище закрыто
	ErrNotReady = errors.New("storage: archive is closed")
)

// Кодек тела архива, первый байт значения
const (
	codecJSON byte = 'j'
	codecZstd byte = 'z'
)

const (
	recordingPrefix = "recording:"
	metaPrefix      = "meta:"
)

// ArchiveInfo краткое описание сохранённой записи
type ArchiveInfo struct {
	RecordingIndex int       `json:"recording_index"`
	SessionID      string    `json:"session_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	SavedAt        time.Time `json:"saved_at"`
	Duration       float64   `json:"duration"`
	Events         int       `json:"events"`
	Objects        int       `json:"objects"`
	RawBytes       int       `json:"raw_bytes"`
	StoredBytes    int       `json:"stored_bytes"`
}

// TraceArchive хранилище архивов записей. Тело архива хранится в JSON,
// сжатом zstd, рядом лежит несжатое описание для быстрого списка.
type TraceArchive struct {
	db       *badger.DB
	dbPath   string
	mutex    sync.RWMutex
	isReady  bool
	compress bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	log    *logging.Logger
	tracer trace.Tracer
}

// NewTraceArchive открывает хранилище в каталоге dataPath/archive
func NewTraceArchive(dataPath string, compress bool) (*TraceArchive, error) {
	dbPath := filepath.Join(dataPath, "archive")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	ta := &TraceArchive{
		db:       db,
		dbPath:   dbPath,
		isReady:  true,
		compress: compress,
		encoder:  encoder,
		decoder:  decoder,
		log:      logging.GetStorageLogger(),
		tracer:   otel.Tracer("github.com/annel0/rewind/internal/storage"),
	}
	ta.log.Info("💾 Архив записей открыт: %s (zstd=%v)", dbPath, compress)
	return ta, nil
}

// Path каталог базы
func (ta *TraceArchive) Path() string { return ta.dbPath }

// Close закрывает хранилище. Повторный вызов безопасен.
func (ta *TraceArchive) Close() error {
	ta.mutex.Lock()
	defer ta.mutex.Unlock()

	if !ta.isReady {
		return nil
	}
	ta.isReady = false
	ta.encoder.Close()
	ta.decoder.Close()
	return ta.db.Close()
}

// Save сохраняет архив записи, заменяя ранее сохранённый с тем же индексом
func (ta *TraceArchive) Save(ctx context.Context, archive *analysis.RecordingArchive) (ArchiveInfo, error) {
	ctx, span := ta.tracer.Start(ctx, "storage.Save")
	defer span.End()

	if archive == nil {
		return ArchiveInfo{}, fmt.Errorf("storage: nil archive")
	}
	span.SetAttributes(attribute.Int("rewind.recording_index", archive.RecordingIndex))

	if err := ctx.Err(); err != nil {
		return ArchiveInfo{}, err
	}

	ta.mutex.RLock()
	defer ta.mutex.RUnlock()
	if !ta.isReady {
		return ArchiveInfo{}, ErrNotReady
	}

	raw, err := json.Marshal(archive)
	if err != nil {
		span.RecordError(err)
		return ArchiveInfo{}, fmt.Errorf("ошибка сериализации архива %d: %w", archive.RecordingIndex, err)
	}

	body := ta.encode(raw)
	info := ArchiveInfo{
		RecordingIndex: archive.RecordingIndex,
		SessionID:      archive.SessionID,
		CreatedAt:      archive.CreatedAt,
		SavedAt:        time.Now().UTC(),
		Duration:       archive.Duration,
		Events:         len(archive.Events),
		Objects:        len(archive.Objects),
		RawBytes:       len(raw),
		StoredBytes:    len(body),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("ошибка сериализации описания %d: %w", archive.RecordingIndex, err)
	}

	err = ta.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordingKey(archive.RecordingIndex), body); err != nil {
			return err
		}
		return txn.Set(metaKey(archive.RecordingIndex), meta)
	})
	if err != nil {
		span.RecordError(err)
		return ArchiveInfo{}, fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	span.SetAttributes(attribute.Int("rewind.archive_bytes", len(body)))
	ta.log.Info("💾 Запись %d сохранена: %d событий, %d -> %d байт", info.RecordingIndex, info.Events, info.RawBytes, info.StoredBytes)
	return info, nil
}

// Load загружает архив записи
func (ta *TraceArchive) Load(ctx context.Context, recordingIndex int) (*analysis.RecordingArchive, error) {
	ctx, span := ta.tracer.Start(ctx, "storage.Load", trace.WithAttributes(attribute.Int("rewind.recording_index", recordingIndex)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ta.mutex.RLock()
	defer ta.mutex.RUnlock()
	if !ta.isReady {
		return nil, ErrNotReady
	}

	body, err := ta.get(recordingKey(recordingIndex))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("запись %d: %w", recordingIndex, err)
	}

	raw, err := ta.decode(body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("запись %d: %w", recordingIndex, err)
	}

	var archive analysis.RecordingArchive
	if err := json.Unmarshal(raw, &archive); err != nil {
		return nil, fmt.Errorf("ошибка десериализации архива %d: %w", recordingIndex, err)
	}
	ta.log.Debug("📂 Запись %d загружена (%d байт)", recordingIndex, len(body))
	return &archive, nil
}

// Info описание сохранённой записи
func (ta *TraceArchive) Info(ctx context.Context, recordingIndex int) (ArchiveInfo, error) {
	if err := ctx.Err(); err != nil {
		return ArchiveInfo{}, err
	}

	ta.mutex.RLock()
	defer ta.mutex.RUnlock()
	if !ta.isReady {
		return ArchiveInfo{}, ErrNotReady
	}

	data, err := ta.get(metaKey(recordingIndex))
	if err != nil {
		return ArchiveInfo{}, fmt.Errorf("запись %d: %w", recordingIndex, err)
	}
	var info ArchiveInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ArchiveInfo{}, fmt.Errorf("ошибка десериализации описания %d: %w", recordingIndex, err)
	}
	return info, nil
}

// List возвращает описания всех сохранённых записей по возрастанию индекса
func (ta *TraceArchive) List(ctx context.Context) ([]ArchiveInfo, error) {
	ta.mutex.RLock()
	defer ta.mutex.RUnlock()
	if !ta.isReady {
		return nil, ErrNotReady
	}

	var result []ArchiveInfo
	err := ta.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(metaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var info ArchiveInfo
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return fmt.Errorf("ключ %s: %w", it.Item().Key(), err)
			}
			result = append(result, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка архивов: %w", err)
	}
	return result, nil
}

// Delete удаляет архив записи
func (ta *TraceArchive) Delete(ctx context.Context, recordingIndex int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ta.mutex.RLock()
	defer ta.mutex.RUnlock()
	if !ta.isReady {
		return ErrNotReady
	}

	err := ta.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(recordingIndex)); err != nil {
			return err
		}
		if err := txn.Delete(recordingKey(recordingIndex)); err != nil {
			return err
		}
		return txn.Delete(metaKey(recordingIndex))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("запись %d: %w", recordingIndex, ErrArchiveNotFound)
	}
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}

	ta.log.Info("🗑️ Архив записи %d удалён", recordingIndex)
	return nil
}

func (ta *TraceArchive) get(key []byte) ([]byte, error) {
	var data []byte
	err := ta.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return data, nil
}

func (ta *TraceArchive) encode(raw []byte) []byte {
	if !ta.compress {
		return append([]byte{codecJSON}, raw...)
	}
	return ta.encoder.EncodeAll(raw, []byte{codecZstd})
}

func (ta *TraceArchive) decode(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("пустое значение")
	}
	switch body[0] {
	case codecJSON:
		return body[1:], nil
	case codecZstd:
		raw, err := ta.decoder.DecodeAll(body[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("неизвестный кодек %q", body[0])
}

func recordingKey(index int) []byte {
	return []byte(fmt.Sprintf("%s%010d", recordingPrefix, index))
}

func metaKey(index int) []byte {
	return []byte(fmt.Sprintf("%s%010d", metaPrefix, index))
}
