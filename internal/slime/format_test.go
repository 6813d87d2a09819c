package slime

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomWorld(r *rand.Rand, i int) *World {
	difficulties := []Difficulty{DifficultyPeaceful, DifficultyEasy, DifficultyNormal, DifficultyHard}
	envs := []Environment{EnvironmentNormal, EnvironmentNether, EnvironmentTheEnd}

	w := &World{
		Name: fmt.Sprintf("world_%d", i),
		Properties: Properties{
			Difficulty:    difficulties[r.Intn(len(difficulties))],
			Environment:   envs[r.Intn(len(envs))],
			SpawnX:        r.Intn(2000) - 1000,
			SpawnY:        r.Intn(256),
			SpawnZ:        r.Intn(2000) - 1000,
			PVP:           r.Intn(2) == 0,
			AllowMonsters: r.Intn(2) == 0,
			AllowAnimals:  r.Intn(2) == 0,
			DefaultBiome:  "minecraft:plains",
			WorldType:     "default",
		},
		CreatedAt: r.Int63(),
	}

	// Чередуем nil / пустые / заполненные значения
	switch i % 3 {
	case 0:
		w.Chunks = nil
		w.Extra = nil
	case 1:
		w.Chunks = []byte{}
		w.Extra = map[string]string{}
	default:
		w.Chunks = make([]byte, r.Intn(4096)+1)
		r.Read(w.Chunks)
		w.Extra = map[string]string{
			"owner": fmt.Sprintf("player-%d", r.Intn(100)),
			"motd":  texts[r.Intn(len(texts))],
			"ключ🌋": texts[r.Intn(len(texts))],
		}
		w.Properties.DefaultBiome = "minecraft:" + texts[r.Intn(len(texts))]
		w.Properties.WorldType = texts[r.Intn(len(texts))]
	}
	return w
}

var texts = []string{"", "plains", "Остров игрока", "🏝️ sunny\tisle", "\u0000null", "日本語", "a\u2028b"}

func TestSerializeRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		w := randomWorld(r, i)

		data, err := Serialize(w)
		require.NoError(t, err)
		assert.True(t, HasMagic(data))

		decoded, err := Deserialize(data)
		require.NoError(t, err)
		assert.Equal(t, w, decoded, "мир %d должен пережить сериализацию без изменений", i)
	}
}

func TestSerializeRejectsInvalidUTF8(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *World)
	}{
		{"extra value", func(w *World) { w.Extra["k"] = "\xff\xfe" }},
		{"extra key", func(w *World) { w.Extra["\xc3"] = "v" }},
		{"default biome", func(w *World) { w.Properties.DefaultBiome = "minecraft:\xc3" }},
		{"world type", func(w *World) { w.Properties.WorldType = "\x80" }},
		{"name", func(w *World) { w.Name = "alpha\xff" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWorld("alpha", DefaultProperties())
			tt.mutate(w)

			data, err := Serialize(w)
			assert.Nil(t, data)
			assert.ErrorIs(t, err, ErrInvalidText)
		})
	}
}

func TestNewWorldRoundTrip(t *testing.T) {
	w := NewWorld("alpha", DefaultProperties())

	data, err := Serialize(w)
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, w, decoded)
}

func TestDeserializeRejectsBadInput(t *testing.T) {
	valid, err := Serialize(NewWorld("alpha", DefaultProperties()))
	require.NoError(t, err)

	mutate := func(fn func(b []byte) []byte) []byte {
		cp := append([]byte(nil), valid...)
		return fn(cp)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrCorruptedWorld},
		{"short header", valid[:10], ErrCorruptedWorld},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 0xCA; return b }), ErrCorruptedWorld},
		{"version zero", mutate(func(b []byte) []byte { b[2] = 0; return b }), ErrCorruptedWorld},
		{"newer version", mutate(func(b []byte) []byte { b[2] = CurrentVersion + 1; return b }), ErrNewerFormat},
		{"truncated body", valid[:len(valid)-3], ErrCorruptedWorld},
		{"flipped body byte", mutate(func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }), ErrCorruptedWorld},
		{"bad checksum", mutate(func(b []byte) []byte { binary.BigEndian.PutUint64(b[4:12], 1); return b }), ErrCorruptedWorld},
		{"plain text", []byte("this is definitely not a slime world file"), ErrCorruptedWorld},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Deserialize(tt.data)
			assert.Nil(t, w)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDeserializeUncompressedBody(t *testing.T) {
	body := []byte(`{"name":"legacy","properties":{"difficulty":"easy","environment":"nether"},"chunks":null,"extra":null,"created_at":7}`)

	data := make([]byte, headerSize)
	binary.BigEndian.PutUint16(data[0:2], Magic)
	data[2] = CurrentVersion
	data[3] = 0
	binary.BigEndian.PutUint64(data[4:12], xxhash.Sum64(body))
	binary.BigEndian.PutUint32(data[12:16], uint32(len(body)))
	data = append(data, body...)

	w, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, "legacy", w.Name)
	assert.Equal(t, DifficultyEasy, w.Properties.Difficulty)
	assert.Equal(t, EnvironmentNether, w.Properties.Environment)
	assert.Equal(t, int64(7), w.CreatedAt)
}
