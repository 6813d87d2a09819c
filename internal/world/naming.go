package world

import (
	"github.com/google/uuid"

	"github.com/annel0/slime-worlds/internal/slime"
)

// IslandWorldName - имя мира острова в заданном измерении:
// island_<uuid>, island_<uuid>_nether, island_<uuid>_the_end.
func IslandWorldName(islandID uuid.UUID, env slime.Environment) string {
	name := "island_" + islandID.String()
	switch env {
	case slime.EnvironmentNether:
		return name + "_nether"
	case slime.EnvironmentTheEnd:
		return name + "_the_end"
	default:
		return name
	}
}
