// Package slime описывает формат хранения мира острова: in-memory представление
// (World) и бинарную сериализацию, которую понимают все загрузчики.
//
// Формат файла:
//
//	+--------+---------+-------+-----------+--------+------------------+
//	| magic  | version | flags | xxhash64  | length | body             |
//	| 2 B    | 1 B     | 1 B   | 8 B       | 4 B    | length B         |
//	+--------+---------+-------+-----------+--------+------------------+
//
// body - JSON представление World, сжатое zstd при установленном flagZstd.
// Контрольная сумма считается по body в том виде, в котором он записан.
package slime

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	// Magic первые два байта любого сериализованного мира
	Magic uint16 = 0xB10B

	// CurrentVersion версия формата, которую пишет Serialize
	CurrentVersion byte = 1

	headerSize = 16

	flagZstd byte = 1 << 0

	// maxBodySize защищает от мусорного поля length
	maxBodySize = 256 << 20
)

var (
	// ErrCorruptedWorld байты не проходят проверку формата
	ErrCorruptedWorld = errors.New("slime: corrupted world data")

	// ErrNewerFormat мир записан более новой версией формата
	ErrNewerFormat = errors.New("slime: world uses a newer format")

	// ErrInvalidText строковое поле мира не является корректным UTF-8
	ErrInvalidText = errors.New("slime: world text is not valid UTF-8")
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBodySize))
)

// World - загруженный мир. Принадлежит хранилищу миров;
// загрузчики видят только сериализованные байты.
type World struct {
	Name       string            `json:"name"`
	Properties Properties        `json:"properties"`
	Chunks     []byte            `json:"chunks"`
	Extra      map[string]string `json:"extra"`
	CreatedAt  int64             `json:"created_at"` // unix millis
}

// NewWorld синтезирует пустой мир с заданными свойствами
func NewWorld(name string, props Properties) *World {
	return &World{
		Name:       name,
		Properties: props,
		Extra:      map[string]string{},
		CreatedAt:  time.Now().UnixMilli(),
	}
}

// HasMagic быстро проверяет заголовок без полного разбора
func HasMagic(data []byte) bool {
	return len(data) >= 2 && binary.BigEndian.Uint16(data[:2]) == Magic
}

// Serialize кодирует мир в бинарный формат текущей версии
func Serialize(w *World) ([]byte, error) {
	if w == nil {
		return nil, errors.New("slime: nil world")
	}
	if err := checkText(w); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("slime: encode world %q: %w", w.Name, err)
	}
	body := encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))

	out := make([]byte, headerSize, headerSize+len(body))
	binary.BigEndian.PutUint16(out[0:2], Magic)
	out[2] = CurrentVersion
	out[3] = flagZstd
	binary.BigEndian.PutUint64(out[4:12], xxhash.Sum64(body))
	binary.BigEndian.PutUint32(out[12:16], uint32(len(body)))
	return append(out, body...), nil
}

// checkText отклоняет строки, которые JSON молча заменил бы на U+FFFD
func checkText(w *World) error {
	fields := []struct {
		field, value string
	}{
		{"name", w.Name},
		{"difficulty", string(w.Properties.Difficulty)},
		{"environment", string(w.Properties.Environment)},
		{"default_biome", w.Properties.DefaultBiome},
		{"world_type", w.Properties.WorldType},
	}
	for _, f := range fields {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("%w: field %s of %q", ErrInvalidText, f.field, w.Name)
		}
	}
	for k, v := range w.Extra {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return fmt.Errorf("%w: extra entry %q of %q", ErrInvalidText, k, w.Name)
		}
	}
	return nil
}

// Deserialize разбирает байты в World.
// Возвращает ErrCorruptedWorld или ErrNewerFormat (через errors.Is), если формат не проходит проверку.
func Deserialize(data []byte) (*World, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than header", ErrCorruptedWorld, len(data))
	}
	if !HasMagic(data) {
		return nil, fmt.Errorf("%w: bad magic %#04x", ErrCorruptedWorld, binary.BigEndian.Uint16(data[:2]))
	}

	version := data[2]
	switch {
	case version == 0:
		return nil, fmt.Errorf("%w: version 0", ErrCorruptedWorld)
	case version > CurrentVersion:
		return nil, fmt.Errorf("%w: version %d, supported up to %d", ErrNewerFormat, version, CurrentVersion)
	}

	flags := data[3]
	sum := binary.BigEndian.Uint64(data[4:12])
	length := binary.BigEndian.Uint32(data[12:16])
	body := data[headerSize:]

	if length > maxBodySize || int(length) != len(body) {
		return nil, fmt.Errorf("%w: body length %d, header says %d", ErrCorruptedWorld, len(body), length)
	}
	if xxhash.Sum64(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptedWorld)
	}

	raw := body
	if flags&flagZstd != 0 {
		var err error
		raw, err = decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptedWorld, err)
		}
	}

	var w World
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCorruptedWorld, err)
	}
	return &w, nil
}
