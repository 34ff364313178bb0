// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sync

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"github.com/silverbook-inc/drue/internal/message"
)

var one = big.NewInt(1)

// StartCursor converts a notification's history cursor into the
// cursor to list history from.  The change log lists changes after
// its start cursor while a notification names the change itself, so
// cursors greater than 1 are decremented.  Arithmetic is arbitrary
// precision.  ok is false when the cursor is not a decimal integer, in
// which case it is returned unchanged.
func StartCursor(historyID string) (start string, ok bool) {
	n, parsed := new(big.Int).SetString(historyID, 10)
	if !parsed {
		return historyID, false
	}
	if n.Cmp(one) <= 0 {
		return historyID, true
	}
	return n.Sub(n, one).String(), true
}

// Reconciliation is the outcome of one pass over the change log.
type Reconciliation struct {
	// Distinct added messages, in the order first seen.
	Added []message.ID

	// The newest history cursor any page reported, or the
	// notification cursor when none did.
	LatestHistoryID string

	// Number of pages fetched.
	Pages int
}

// Reconcile lists the change log starting at start and collects the
// messages added across every page.  Any page failure aborts the whole
// reconciliation; no partial result is returned.
func Reconcile(ctx context.Context, h HistoryLister, start, notificationHistoryID string) (*Reconciliation, error) {
	r := &Reconciliation{LatestHistoryID: notificationHistoryID}
	seen := map[string]bool{}
	pageToken := ""
	for {
		page, err := h.ListHistory(ctx, start, pageToken)
		r.Pages++
		if err != nil {
			return nil, errors.Wrapf(err, "unable to retrieve history page %d", r.Pages)
		}
		for _, rec := range page.History {
			for _, id := range rec.MessagesAdded {
				if id.PermID == "" || seen[id.PermID] {
					continue
				}
				seen[id.PermID] = true
				r.Added = append(r.Added, id)
			}
		}
		if page.HistoryID != "" {
			r.LatestHistoryID = page.HistoryID
		}
		if page.NextPageToken == "" {
			return r, nil
		}
		pageToken = page.NextPageToken
	}
}
