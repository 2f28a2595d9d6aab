package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/victornm/quizduel/internal/domain"
)

// Envelope is the tagged message carried by the push feed.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// snapshotData uses pointers so that a missing field can be told apart from a zero value.
type snapshotData struct {
	BattleID     *string `json:"battle_id"`
	Status       *string `json:"status"`
	Player1Score *int    `json:"player1_score"`
	Player2Score *int    `json:"player2_score"`
	WinnerID     *string `json:"winner_id,omitempty"`
	Player2ID    *string `json:"player2_id,omitempty"`
}

// Decode parses a pushed message into a snapshot. A message with any missing or invalid
// required field is rejected whole.
func Decode(b []byte) (domain.Snapshot, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode envelope: %w", err)
	}

	if env.Event != domain.EventNameBattleUpdated {
		return domain.Snapshot{}, fmt.Errorf("unexpected event %q", env.Event)
	}

	var d snapshotData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	switch {
	case d.BattleID == nil || *d.BattleID == "":
		return domain.Snapshot{}, fmt.Errorf("snapshot has no battle_id")
	case d.Status == nil || !domain.Status(*d.Status).Valid():
		return domain.Snapshot{}, fmt.Errorf("snapshot has invalid status")
	case d.Player1Score == nil || *d.Player1Score < 0:
		return domain.Snapshot{}, fmt.Errorf("snapshot has invalid player1_score")
	case d.Player2Score == nil || *d.Player2Score < 0:
		return domain.Snapshot{}, fmt.Errorf("snapshot has invalid player2_score")
	}

	s := domain.Snapshot{
		BattleID:     *d.BattleID,
		Status:       domain.Status(*d.Status),
		Player1Score: *d.Player1Score,
		Player2Score: *d.Player2Score,
	}
	if d.WinnerID != nil {
		s.WinnerID = *d.WinnerID
	}
	if d.Player2ID != nil {
		s.Player2ID = *d.Player2ID
	}

	return s, nil
}

// Encode builds the pushed message for a snapshot.
func Encode(s domain.Snapshot) ([]byte, error) {
	d := snapshotData{
		BattleID:     &s.BattleID,
		Status:       (*string)(&s.Status),
		Player1Score: &s.Player1Score,
		Player2Score: &s.Player2Score,
	}
	if s.WinnerID != "" {
		d.WinnerID = &s.WinnerID
	}
	if s.Player2ID != "" {
		d.Player2ID = &s.Player2ID
	}

	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	return json.Marshal(Envelope{
		Event: domain.EventNameBattleUpdated,
		Data:  data,
	})
}
