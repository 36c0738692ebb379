package faa

import "path/filepath"

// SubscriptionDiff is the set of filesystem paths to subscribe to and
// unsubscribe from at the event source after a reload (spec §4.5 step 4).
type SubscriptionDiff struct {
	Subscribe   []string
	Unsubscribe []string
}

// ExpandSubscriptions computes the filesystem paths a CompiledSet's
// Data-centric WatchItems need subscribed, expanding glob patterns against
// the current filesystem (spec §4.5 step 2). A path with no glob
// metacharacter is watched whether or not it currently exists; a glob
// that currently has no match (or that filepath.Glob rejects) is installed
// as a watch on its literal pattern, so that files created later are
// covered once the watch becomes active.
func ExpandSubscriptions(cs *CompiledSet) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, item := range cs.Items {
		if item.RuleType.isProcessCentric() {
			continue
		}
		for _, pg := range item.Paths {
			if !hasGlobMeta(pg.Pattern) {
				add(pg.Pattern)
				continue
			}
			matches, err := filepath.Glob(pg.Pattern)
			if err != nil || len(matches) == 0 {
				add(pg.Pattern)
				continue
			}
			for _, m := range matches {
				add(m)
			}
		}
	}
	return out
}

// Diff computes what changed between the previously subscribed paths and
// a newly expanded set.
func Diff(prev, next []string) SubscriptionDiff {
	prevSet := make(map[string]struct{}, len(prev))
	for _, p := range prev {
		prevSet[p] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, p := range next {
		nextSet[p] = struct{}{}
	}

	var diff SubscriptionDiff
	for _, p := range next {
		if _, ok := prevSet[p]; !ok {
			diff.Subscribe = append(diff.Subscribe, p)
		}
	}
	for _, p := range prev {
		if _, ok := nextSet[p]; !ok {
			diff.Unsubscribe = append(diff.Unsubscribe, p)
		}
	}
	return diff
}

func hasGlobMeta(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', ']', '{', '}':
			return true
		}
	}
	return false
}
