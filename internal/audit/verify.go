package audit

import (
	"context"
	"fmt"
)

// Report is the outcome of a chain verification.
type Report struct {
	Checked   int    `json:"checked"`
	OK        bool   `json:"ok"`
	BrokenSeq uint64 `json:"broken_seq,omitempty"`
	BrokenID  string `json:"broken_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Verify re-walks every stored event in sequence order and reports the
// first broken link: a gap, a duplicate, a previous-hash mismatch or a
// record whose content no longer matches its hash.
func Verify(ctx context.Context, s Store) (Report, error) {
	events, err := s.Query(ctx, Filter{})
	if err != nil {
		return Report{}, fmt.Errorf("audit: reading events: %w", err)
	}

	var rep Report
	broken := func(e Event, reason string) (Report, error) {
		rep.BrokenSeq = e.Seq
		rep.BrokenID = e.ID
		rep.Reason = reason
		return rep, nil
	}

	for i, e := range events {
		if i == 0 {
			if e.Seq != 1 {
				return broken(e, fmt.Sprintf("chain starts at seq %d", e.Seq))
			}
			if e.PrevHash != "" {
				return broken(e, "first event has a previous hash")
			}
		} else {
			prev := events[i-1]
			switch {
			case e.Seq == prev.Seq:
				return broken(e, "duplicate sequence number")
			case e.Seq != prev.Seq+1:
				return broken(e, fmt.Sprintf("missing events %d-%d", prev.Seq+1, e.Seq-1))
			case e.PrevHash != prev.Hash:
				return broken(e, "previous hash mismatch")
			}
		}
		h, err := ComputeHash(e)
		if err != nil {
			return Report{}, err
		}
		if h != e.Hash {
			return broken(e, "content hash mismatch")
		}
		rep.Checked++
	}
	rep.OK = true
	return rep, nil
}
