package chat

import (
	"iter"
	"slices"

	"github.com/google/uuid"

	"fair/internal/model"
)

type threadKey struct {
	listing     uuid.UUID
	counterpart uuid.UUID
}

// Aggregate folds a message sequence into the viewer's threads under the
// given perspective. Messages on listings missing from the map are skipped.
// The result is ordered by last activity, newest first; threads without a
// timestamp go last and ties keep first-seen order.
func Aggregate(viewer uuid.UUID, p Perspective, listings map[uuid.UUID]model.Listing, msgs iter.Seq2[model.Message, error]) ([]model.Thread, error) {
	index := make(map[threadKey]int)
	threads := make([]model.Thread, 0)

	for m, err := range msgs {
		if err != nil {
			return nil, err
		}
		l, ok := listings[m.ListingID]
		if !ok {
			continue
		}
		cp, ok := p.counterpart(viewer, m, l)
		if !ok {
			continue
		}

		key := threadKey{listing: m.ListingID, counterpart: cp}
		i, seen := index[key]
		if !seen {
			i = len(threads)
			index[key] = i
			threads = append(threads, model.Thread{
				ListingID:     m.ListingID,
				ListingTitle:  l.Title,
				CounterpartID: cp,
			})
		}

		t := &threads[i]
		if m.CreatedAt.After(t.LastActivityAt) {
			t.LastActivityAt = m.CreatedAt
		}
		if m.ReceiverID == viewer && !m.IsRead {
			t.UnreadCount++
		}
	}

	sortByActivity(threads)
	return threads, nil
}

func sortByActivity(threads []model.Thread) {
	slices.SortStableFunc(threads, func(a, b model.Thread) int {
		az, bz := a.LastActivityAt.IsZero(), b.LastActivityAt.IsZero()
		switch {
		case az && bz:
			return 0
		case az:
			return 1
		case bz:
			return -1
		}
		return b.LastActivityAt.Compare(a.LastActivityAt)
	})
}
