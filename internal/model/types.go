package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds pushed by the server.
const (
	KindInitialState       = "initial_state"
	KindTournamentStarted  = "tournament_started"
	KindLevelChanged       = "level_changed"
	KindPauseStatusChanged = "pause_status_changed"
	KindPlayerEliminated   = "player_eliminated"
	KindPlayerRebuy        = "player_rebuy"
	KindTablesUpdated      = "tables_updated"
	KindPong               = "pong"
)

// Kinds lists every event kind with a payload type in this package.
var Kinds = []string{
	KindInitialState,
	KindTournamentStarted,
	KindLevelChanged,
	KindPauseStatusChanged,
	KindPlayerEliminated,
	KindPlayerRebuy,
	KindTablesUpdated,
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// InitialState is the first message after connecting: a snapshot of the tournament.
type InitialState struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	Status             string          `json:"status"`        // planned, in_progress, completed, cancelled
	CurrentLevel       int             `json:"current_level"` // 0 before the first level
	PlayersCount       int             `json:"players_count"`
	ActivePlayersCount int             `json:"active_players_count"`
	Paused             bool            `json:"paused"`
	TablesState        json.RawMessage `json:"tables_state,omitempty"`
}

// -----------------------------------------------------------------------------
// Incremental Events
// -----------------------------------------------------------------------------

// TournamentStarted is sent when the clock starts.
type TournamentStarted struct {
	StartTime *string `json:"start_time"`
}

// LevelChanged is sent when the blind level advances. Blind fields are nil
// when the level is missing from the blinds structure.
type LevelChanged struct {
	Level      int      `json:"level"`
	SmallBlind *float64 `json:"small_blind"`
	BigBlind   *float64 `json:"big_blind"`
	Duration   *int     `json:"duration"` // minutes
}

// PauseStatusChanged is sent when the tournament clock is paused or resumed.
type PauseStatusChanged struct {
	Paused bool `json:"paused"`
}

// PlayerEliminated is sent when a player busts.
type PlayerEliminated struct {
	PlayerID int64  `json:"player_id"`
	Position int    `json:"position"` // finishing place
	Time     string `json:"time"`
}

// PlayerRebuy is sent when a player buys back in.
type PlayerRebuy struct {
	PlayerID   int64   `json:"player_id"`
	ChipsAdded float64 `json:"chips_added"`
	Time       string  `json:"time"`
}

// TablesUpdated is sent after seating changes.
type TablesUpdated struct {
	TablesState json.RawMessage `json:"tables_state"`
}

// -----------------------------------------------------------------------------
// Timestamps
// -----------------------------------------------------------------------------

// Layouts accepted by ParseTime. The server emits naive local timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime parses a server timestamp. Timestamps without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
