package slime

import (
	"fmt"
	"strconv"
	"strings"
)

// Difficulty уровень сложности мира
type Difficulty string

const (
	DifficultyPeaceful Difficulty = "peaceful"
	DifficultyEasy     Difficulty = "easy"
	DifficultyNormal   Difficulty = "normal"
	DifficultyHard     Difficulty = "hard"
)

// Environment измерение мира
type Environment string

const (
	EnvironmentNormal Environment = "normal"
	EnvironmentNether Environment = "nether"
	EnvironmentTheEnd Environment = "the_end"
)

// ParseDifficulty разбирает сложность без учёта регистра
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DifficultyPeaceful, DifficultyEasy, DifficultyNormal, DifficultyHard:
		return d, nil
	}
	return "", fmt.Errorf("unknown difficulty %q", s)
}

// ParseEnvironment разбирает измерение без учёта регистра
func ParseEnvironment(s string) (Environment, error) {
	e := Environment(strings.ToLower(strings.TrimSpace(s)))
	switch e {
	case EnvironmentNormal, EnvironmentNether, EnvironmentTheEnd:
		return e, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// Properties - явный набор свойств мира, которые задаются при создании пустого мира.
// Открытый map намеренно не используется: неизвестные ключи отклоняются в ParseProperties.
type Properties struct {
	Difficulty    Difficulty  `json:"difficulty" yaml:"difficulty"`
	Environment   Environment `json:"environment" yaml:"environment"`
	SpawnX        int         `json:"spawn_x" yaml:"spawn_x"`
	SpawnY        int         `json:"spawn_y" yaml:"spawn_y"`
	SpawnZ        int         `json:"spawn_z" yaml:"spawn_z"`
	PVP           bool        `json:"pvp" yaml:"pvp"`
	AllowMonsters bool        `json:"allow_monsters" yaml:"allow_monsters"`
	AllowAnimals  bool        `json:"allow_animals" yaml:"allow_animals"`
	DefaultBiome  string      `json:"default_biome" yaml:"default_biome"`
	WorldType     string      `json:"world_type" yaml:"world_type"`
}

// DefaultProperties возвращает свойства по умолчанию для нового острова
func DefaultProperties() Properties {
	return Properties{
		Difficulty:    DifficultyPeaceful,
		Environment:   EnvironmentNormal,
		SpawnX:        0,
		SpawnY:        255,
		SpawnZ:        0,
		PVP:           true,
		AllowMonsters: true,
		AllowAnimals:  true,
		DefaultBiome:  "minecraft:plains",
		WorldType:     "default",
	}
}

// Validate проверяет, что сложность и измерение распознаны
func (p Properties) Validate() error {
	if _, err := ParseDifficulty(string(p.Difficulty)); err != nil {
		return err
	}
	if _, err := ParseEnvironment(string(p.Environment)); err != nil {
		return err
	}
	return nil
}

// With накладывает непустые значения overrides поверх p.
// Булевы флаги накладываются только через ParseProperties.
func (p Properties) With(overrides Properties) Properties {
	if overrides.Difficulty != "" {
		p.Difficulty = overrides.Difficulty
	}
	if overrides.Environment != "" {
		p.Environment = overrides.Environment
	}
	if overrides.DefaultBiome != "" {
		p.DefaultBiome = overrides.DefaultBiome
	}
	if overrides.WorldType != "" {
		p.WorldType = overrides.WorldType
	}
	return p
}

// ParseProperties применяет пары ключ/значение к base.
// Используется CLI и admin API; неизвестный ключ - ошибка.
func ParseProperties(base Properties, kv map[string]string) (Properties, error) {
	p := base
	for key, raw := range kv {
		var err error
		switch strings.ToLower(key) {
		case "difficulty":
			p.Difficulty, err = ParseDifficulty(raw)
		case "environment":
			p.Environment, err = ParseEnvironment(raw)
		case "spawn_x":
			p.SpawnX, err = strconv.Atoi(raw)
		case "spawn_y":
			p.SpawnY, err = strconv.Atoi(raw)
		case "spawn_z":
			p.SpawnZ, err = strconv.Atoi(raw)
		case "pvp":
			p.PVP, err = strconv.ParseBool(raw)
		case "allow_monsters":
			p.AllowMonsters, err = strconv.ParseBool(raw)
		case "allow_animals":
			p.AllowAnimals, err = strconv.ParseBool(raw)
		case "default_biome":
			p.DefaultBiome = raw
		case "world_type":
			p.WorldType = raw
		default:
			return base, fmt.Errorf("unknown world property %q", key)
		}
		if err != nil {
			return base, fmt.Errorf("property %s: %w", key, err)
		}
	}
	return p, nil
}
