package eventbus

// Event types published by the dispatch engine and the task engine.
const (
	DispatchSent        = "dispatch.sent"
	DispatchFailed      = "dispatch.failed"
	DispatchSkipped     = "dispatch.skipped"
	DispatchAborted     = "dispatch.aborted"
	DispatchRunFinished = "dispatch.run_finished"
	DispatchInbound     = "dispatch.inbound"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"

	ConfigReloaded = "config.reloaded"
)

// Nop returns a bus that discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Dropped() uint64 { return 0 }

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
