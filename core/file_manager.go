package core

import "sync"

const messageTypeTransferCondition = "transfer_condition"

// transferRecord tracks one file transfer identified by an indication_id:
// the set of paths expected, and which of them have completed or failed.
// A transfer's record is erased once every expected path has resolved one
// way or the other.
type transferRecord struct {
	expected  map[string]struct{}
	completed map[string]struct{}
	failed    map[string]struct{}
	lastPct   int
}

// FileManager tracks per-transfer completion progress on the receiving
// side of the file-mode pipeline. Wire it to a Session's OnFile (directly,
// or via a Bridge's uploaded_file interception) to get a transfer_condition
// Container each time a transfer's integer percentage changes.
type FileManager struct {
	mu      sync.Mutex
	records map[string]*transferRecord
}

// NewFileManager builds an empty FileManager.
func NewFileManager() *FileManager {
	return &FileManager{records: make(map[string]*transferRecord)}
}

// Expect registers the full set of paths a transfer identified by
// indicationID will eventually deliver. Received calls for paths outside
// this set are tracked too (a transfer with no prior Expect call is
// assumed to have exactly the paths it has seen so far as its total).
func (fm *FileManager) Expect(indicationID string, paths []string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	rec := fm.recordLocked(indicationID)
	for _, p := range paths {
		rec.expected[p] = struct{}{}
	}
}

func (fm *FileManager) recordLocked(indicationID string) *transferRecord {
	rec, ok := fm.records[indicationID]
	if !ok {
		rec = &transferRecord{
			expected:  make(map[string]struct{}),
			completed: make(map[string]struct{}),
			failed:    make(map[string]struct{}),
			lastPct:   -1,
		}
		fm.records[indicationID] = rec
	}
	return rec
}

// Received records one successfully completed path for a transfer and
// returns a transfer_condition Container whenever the transfer's integer
// percentage has changed since the last call, or nil otherwise. The
// returned container carries completed_count/failed_count/completed=true
// once every expected path has resolved, at which point the record is
// erased.
func (fm *FileManager) Received(indicationID, path string) *Container {
	return fm.resolve(indicationID, path, true)
}

// Failed records one failed path for a transfer, with the same progress
// semantics as Received.
func (fm *FileManager) Failed(indicationID, path string) *Container {
	return fm.resolve(indicationID, path, false)
}

func (fm *FileManager) resolve(indicationID, path string, ok bool) *Container {
	fm.mu.Lock()
	rec := fm.recordLocked(indicationID)
	rec.expected[path] = struct{}{}
	if ok {
		rec.completed[path] = struct{}{}
	} else {
		rec.failed[path] = struct{}{}
	}

	expected := len(rec.expected)
	resolved := len(rec.completed) + len(rec.failed)
	pct := 0
	if expected > 0 {
		pct = (100 * resolved) / expected
	}
	done := expected > 0 && resolved == expected

	changed := pct != rec.lastPct
	rec.lastPct = pct
	completedCount := len(rec.completed)
	failedCount := len(rec.failed)
	if done {
		delete(fm.records, indicationID)
	}
	fm.mu.Unlock()

	if !changed && !done {
		return nil
	}

	c := NewContainer()
	c.SetMessageType(messageTypeTransferCondition)
	c.Add(NewString("indication_id", indicationID))
	c.Add(NewUShort("percentage", uint16(pct)))
	if done {
		c.Add(NewUint("completed_count", uint32(completedCount)))
		c.Add(NewUint("failed_count", uint32(failedCount)))
		c.Add(NewBool("completed", true))
	}
	return c
}

// Progress returns a transfer's current (completed, failed, expected)
// counts and whether it is known at all.
func (fm *FileManager) Progress(indicationID string) (completed, failed, expected int, ok bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	rec, found := fm.records[indicationID]
	if !found {
		return 0, 0, 0, false
	}
	return len(rec.completed), len(rec.failed), len(rec.expected), true
}
