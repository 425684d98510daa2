package events

// Event enumerates high-level topics inside the strategy engine.
type Event string

const (
	EventBarIngested         Event = "bar.ingested"
	EventStrategyActivated   Event = "strategy.activated"
	EventStrategyDeactivated Event = "strategy.deactivated"
	EventJobCompleted        Event = "job.completed"
	EventTradeExecuted       Event = "trade.executed"
)
