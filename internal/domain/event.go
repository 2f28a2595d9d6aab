package domain

const (
	// EventNameBattleUpdated tags snapshots pushed by the arena.
	EventNameBattleUpdated = "battle.updated"

	EventNameViewUpdated   = "view.updated"
	EventNameBattleFound   = "battle.found"
	EventNameRoundResolved = "round.resolved"
	EventNameBattleEnded   = "battle.ended"
)

type EventViewUpdated struct {
	View View
}

func (EventViewUpdated) Name() string { return EventNameViewUpdated }

type EventBattleFound struct {
	Session BattleSession
}

func (EventBattleFound) Name() string { return EventNameBattleFound }

type EventRoundResolved struct {
	BattleID string
	Result   AnswerResult
}

func (EventRoundResolved) Name() string { return EventNameRoundResolved }

// EventBattleEnded is published when a battle finishes locally, is completed by the arena,
// or is cancelled.
type EventBattleEnded struct {
	Session BattleSession
}

func (EventBattleEnded) Name() string { return EventNameBattleEnded }
