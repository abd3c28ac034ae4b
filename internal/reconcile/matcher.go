// Package reconcile decides how external records land on local entities:
// create, update, skip or fail, one record at a time.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shopsync/internal/models"
	"shopsync/internal/remote"
)

// ErrorCap bounds the error list returned in summaries.
const ErrorCap = 5

// ErrNoMatch is the failure reason when missing behavior is fail.
var ErrNoMatch = errors.New("no matching entity")

type Outcome string

const (
	Created          Outcome = "created"
	Updated          Outcome = "updated"
	SkippedUnchanged Outcome = "skipped_unchanged"
	SkippedMissing   Outcome = "skipped_missing"
	Failed           Outcome = "failed"
)

// Result is the decision for one record.
type Result struct {
	Outcome Outcome `json:"outcome"`
	ID      string  `json:"id,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

func failed(err error) Result {
	return Result{Outcome: Failed, Reason: err.Error()}
}

// Keys are the identifiers an external record offers for matching.
type Keys struct {
	SKU string
	EAN string
}

func (k Keys) normalized() Keys {
	return Keys{SKU: strings.TrimSpace(k.SKU), EAN: strings.TrimSpace(k.EAN)}
}

func (k Keys) Empty() bool {
	n := k.normalized()
	return n.SKU == "" && n.EAN == ""
}

// Lookup resolves one identifier to an entity id.
type Lookup func(ctx context.Context, by remote.Identifier, code string) (id string, found bool, err error)

// Match is a successful lookup.
type Match struct {
	ID string
	By models.MatchedBy
}

type Matcher struct {
	Strategy models.MatchStrategy
	Missing  models.MissingBehavior
}

// Match tries the identifiers allowed by the strategy. With sku_or_ean the EAN
// is tried only when the SKU is absent or missed.
func (m Matcher) Match(ctx context.Context, lookup Lookup, keys Keys) (Match, bool, error) {
	keys = keys.normalized()
	trySKU := m.Strategy != models.MatchStrategyEAN
	tryEAN := m.Strategy != models.MatchStrategySKU

	if trySKU && keys.SKU != "" {
		id, ok, err := lookup(ctx, remote.BySKU, keys.SKU)
		if err != nil {
			return Match{}, false, err
		}
		if ok {
			return Match{ID: id, By: models.MatchedBySKU}, true, nil
		}
	}
	if tryEAN && keys.EAN != "" {
		id, ok, err := lookup(ctx, remote.ByEAN, keys.EAN)
		if err != nil {
			return Match{}, false, err
		}
		if ok {
			return Match{ID: id, By: models.MatchedByEAN}, true, nil
		}
	}
	return Match{}, false, nil
}

// OnMissing turns a miss into a result. ok is false when the caller should
// create the entity instead.
func (m Matcher) OnMissing(keys Keys) (Result, bool) {
	switch m.Missing {
	case models.MissingBehaviorCreate:
		return Result{}, false
	case models.MissingBehaviorFail:
		keys = keys.normalized()
		return failed(fmt.Errorf("%w (sku=%q ean=%q)", ErrNoMatch, keys.SKU, keys.EAN)), true
	default:
		return Result{Outcome: SkippedMissing}, true
	}
}

// Tally counts outcomes and keeps a bounded error list.
type Tally struct {
	Created          int      `json:"created"`
	Updated          int      `json:"updated"`
	SkippedUnchanged int      `json:"skippedUnchanged"`
	SkippedMissing   int      `json:"skippedMissing"`
	Failed           int      `json:"failed"`
	Errors           []string `json:"errors"`
}

func (t *Tally) Add(r Result, label string) {
	switch r.Outcome {
	case Created:
		t.Created++
	case Updated:
		t.Updated++
	case SkippedUnchanged:
		t.SkippedUnchanged++
	case SkippedMissing:
		t.SkippedMissing++
	case Failed:
		t.Failed++
		t.Errors = appendCapped(t.Errors, label+": "+r.Reason)
	}
}

func (t Tally) Total() int {
	return t.Created + t.Updated + t.SkippedUnchanged + t.SkippedMissing + t.Failed
}

func appendCapped(list []string, msg string) []string {
	if len(list) >= ErrorCap {
		return list
	}
	return append(list, msg)
}
