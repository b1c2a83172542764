package http

const (
	Ping    = "Ping"
	Version = "Version"
	Notify  = "Notify"

	ListRuns     = "ListRuns"
	RunStatus    = "RunStatus"
	CancelRun    = "CancelRun"
	SyncStatus   = "SyncStatus"
	ListReleases = "ListReleases"

	// Events is the streaming endpoint; it upgrades to a websocket
	// rather than answering a plain HTTP exchange.
	Events = "Events"
)
