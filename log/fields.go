package log

const (
	NamespaceKey = "durable"

	InstanceIDKey = NamespaceKey + ".instance.id"
	ClassKey      = NamespaceKey + ".workflow.class"

	EventTypeKey = NamespaceKey + ".event.type"
	SeqKey       = NamespaceKey + ".event.seq"

	ActivityKindKey = NamespaceKey + ".suspension.kind"

	IsWakeKey       = NamespaceKey + ".is_wake"
	IsReplayingKey  = NamespaceKey + ".is_replaying"
	HistoryLenKey   = NamespaceKey + ".history_len"
	DurationKey     = NamespaceKey + ".duration_ms"

	// NowKey is the time at which a timer was scheduled.
	NowKey = NamespaceKey + ".timer.now"
	// AtKey is the time at which a timer is scheduled to fire.
	AtKey = NamespaceKey + ".timer.at"
)
