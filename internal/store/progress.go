package store

import "fmt"

// Bucket names a progress partition.
type Bucket string

// Progress buckets. Which buckets an action may use is enforced by the
// process registry at write time.
const (
	BucketPending   Bucket = "pending"
	BucketDone      Bucket = "done"
	BucketFailed    Bucket = "failed"
	BucketExisting  Bucket = "existing"
	BucketChanged   Bucket = "changed"
	BucketUnchanged Bucket = "unchanged"
)

// Move transfers a fid from pending to the named bucket. Movement is
// monotonic within one admission: ids only ever leave pending.
func (p *Progress) Move(fid int64, to Bucket) error {
	idx := -1
	for i, id := range p.Pending {
		if id == fid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("fid %d is not pending", fid)
	}
	p.Pending = append(p.Pending[:idx], p.Pending[idx+1:]...)

	switch to {
	case BucketDone:
		p.Done = append(p.Done, fid)
	case BucketFailed:
		p.Failed = append(p.Failed, fid)
	case BucketExisting:
		p.Existing = append(p.Existing, fid)
	case BucketChanged:
		p.Changed = append(p.Changed, fid)
	case BucketUnchanged:
		p.Unchanged = append(p.Unchanged, fid)
	default:
		return fmt.Errorf("unknown bucket %q", to)
	}
	return nil
}

// Buckets returns the occupied buckets keyed by name.
func (p *Progress) Buckets() map[Bucket][]int64 {
	return map[Bucket][]int64{
		BucketPending:   p.Pending,
		BucketDone:      p.Done,
		BucketFailed:    p.Failed,
		BucketExisting:  p.Existing,
		BucketChanged:   p.Changed,
		BucketUnchanged: p.Unchanged,
	}
}

// CheckPartition verifies that every id appears in exactly one bucket.
func (p *Progress) CheckPartition() error {
	seen := make(map[int64]Bucket)
	for bucket, ids := range p.Buckets() {
		for _, fid := range ids {
			if prev, dup := seen[fid]; dup {
				return fmt.Errorf("fid %d appears in both %s and %s", fid, prev, bucket)
			}
			seen[fid] = bucket
		}
	}
	return nil
}

// Total returns the number of ids across all buckets.
func (p *Progress) Total() int {
	n := 0
	for _, ids := range p.Buckets() {
		n += len(ids)
	}
	return n
}

// Remaining reports whether any ids are still pending.
func (p *Progress) Remaining() bool {
	return len(p.Pending) > 0
}
