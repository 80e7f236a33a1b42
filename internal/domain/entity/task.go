package entity

// Kind identifies the category of work a Task performs. The scheduler
// dedups purely on (Kind, Key); Kind participates in the key so that, for
// example, a feed task and an entry task for the same URL never collide.
type Kind string

const (
	KindFeed           Kind = "feed"
	KindEntry          Kind = "entry"
	KindWebSubPing     Kind = "websub-ping"
	KindWebmentionPing Kind = "webmention-ping"
	KindWaybackSave    Kind = "wayback-save"
	KindDiscoveryPage  Kind = "discovery-page"
)

// State is a Task's position in its lifecycle. The scheduler is the only
// owner of this field; callers observe it only through Scheduler.StateOf.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// TaskKey uniquely identifies a unit of work for dedup purposes. Two
// submissions with the same key are the same task for the lifetime of a
// process run, regardless of how many times Submit is called.
func TaskKey(kind Kind, key string) string {
	return string(kind) + ":" + key
}
