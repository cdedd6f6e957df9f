package invitations

import "sync"

// taskLocks serializes accept/decline handling per task. A fixed stripe
// count keeps memory bounded no matter how many tasks pass through;
// distinct tasks sharing a stripe only cost extra serialization.
type taskLocks struct {
	stripes [64]sync.Mutex
}

func (l *taskLocks) forTask(taskID int64) *sync.Mutex {
	return &l.stripes[uint64(taskID)%uint64(len(l.stripes))]
}
