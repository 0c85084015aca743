package journal

// Telemetry captures the metrics adapter used by the journal to report
// evictions.
type Telemetry interface {
	RecordJournalEviction(count int)
}

// RecordResult describes the buffer after a Record call.
type RecordResult struct {
	Size    int
	Evicted int
}

// Journal is a bounded history of per-frame entries, oldest at the front.
// Recording past capacity evicts from the front immediately, so Len never
// exceeds Cap. A Journal is owned by a single goroutine.
type Journal[T any] struct {
	entries   []T
	head      int
	size      int
	telemetry Telemetry
	policy    *Policy
}

// New constructs a journal holding at most capacity entries.
func New[T any](capacity int) *Journal[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Journal[T]{
		entries: make([]T, capacity),
		policy:  NewPolicy(),
	}
}

// AttachTelemetry wires eviction reporting.
func (j *Journal[T]) AttachTelemetry(t Telemetry) {
	if j == nil {
		return
	}
	j.telemetry = t
}

// Policy exposes the desync-risk policy fed by the rollback controller.
func (j *Journal[T]) Policy() *Policy {
	if j == nil {
		return nil
	}
	return j.policy
}

// Len reports the number of retained entries.
func (j *Journal[T]) Len() int {
	if j == nil {
		return 0
	}
	return j.size
}

// Cap reports the retention limit.
func (j *Journal[T]) Cap() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}

func (j *Journal[T]) slot(offset int) int {
	return (j.head + offset) % len(j.entries)
}

// Record appends entry at the back, evicting the oldest entry when full.
func (j *Journal[T]) Record(entry T) RecordResult {
	if j == nil {
		return RecordResult{}
	}
	evicted := 0
	if j.size == len(j.entries) {
		var zero T
		j.entries[j.head] = zero
		j.head = j.slot(1)
		j.size--
		evicted = 1
	}
	j.entries[j.slot(j.size)] = entry
	j.size++
	if evicted > 0 && j.telemetry != nil {
		j.telemetry.RecordJournalEviction(evicted)
	}
	return RecordResult{Size: j.size, Evicted: evicted}
}

// At returns the entry at offset from the front.
func (j *Journal[T]) At(offset int) (T, bool) {
	var zero T
	if j == nil || offset < 0 || offset >= j.size {
		return zero, false
	}
	return j.entries[j.slot(offset)], true
}

// Front returns the oldest entry.
func (j *Journal[T]) Front() (T, bool) {
	return j.At(0)
}

// Back returns the newest entry.
func (j *Journal[T]) Back() (T, bool) {
	return j.At(j.Len() - 1)
}

// PopBack removes and returns the newest entry.
func (j *Journal[T]) PopBack() (T, bool) {
	var zero T
	if j == nil || j.size == 0 {
		return zero, false
	}
	index := j.slot(j.size - 1)
	entry := j.entries[index]
	j.entries[index] = zero
	j.size--
	return entry, true
}

// Rewind drops the newest steps-1 entries and returns the entry that is then
// at the back, along with the number of steps actually taken. steps is
// clamped to Len; zero steps does nothing and reports false.
func (j *Journal[T]) Rewind(steps int) (T, int, bool) {
	var zero T
	if j == nil {
		return zero, 0, false
	}
	if steps > j.size {
		steps = j.size
	}
	if steps <= 0 {
		return zero, 0, false
	}
	for i := 0; i < steps-1; i++ {
		j.PopBack()
	}
	entry, _ := j.Back()
	return entry, steps, true
}

// Reset discards every entry.
func (j *Journal[T]) Reset() {
	if j == nil {
		return
	}
	var zero T
	for i := range j.entries {
		j.entries[i] = zero
	}
	j.head = 0
	j.size = 0
}
