// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package broker

import (
	"github.com/juju/collections/set"

	"github.com/juju/mediabroker/core/resource"
)

// interest is the set of contexts waiting on one resource.
type interest struct {
	url      string
	contexts set.Strings
}

// interestSets maps resources to the contexts interested in them, along
// with the reverse index used for teardown. An entry exists in either map
// only while its set is non-empty. It is owned by the broker loop and is
// not safe for concurrent use.
type interestSets struct {
	byID      map[resource.ID]*interest
	byContext map[resource.ContextHandle]set.Strings
}

func newInterestSets() *interestSets {
	return &interestSets{
		byID:      make(map[resource.ID]*interest),
		byContext: make(map[resource.ContextHandle]set.Strings),
	}
}

// add records that context wants id. It reports whether id was unknown
// before, and whether context was newly added.
func (s *interestSets) add(context resource.ContextHandle, id resource.ID, url string) (created, added bool) {
	in, ok := s.byID[id]
	if !ok {
		in = &interest{url: url, contexts: set.NewStrings()}
		s.byID[id] = in
		created = true
	}
	if in.contexts.Contains(string(context)) {
		return created, false
	}
	in.contexts.Add(string(context))

	ids, ok := s.byContext[context]
	if !ok {
		ids = set.NewStrings()
		s.byContext[context] = ids
	}
	ids.Add(string(id))
	return created, true
}

// remove withdraws context from id. It reports whether context was a
// member, and whether the set for id is now gone.
func (s *interestSets) remove(context resource.ContextHandle, id resource.ID) (removed, emptied bool) {
	in, ok := s.byID[id]
	if !ok || !in.contexts.Contains(string(context)) {
		return false, false
	}
	in.contexts.Remove(string(context))
	s.unindex(context, id)

	if in.contexts.IsEmpty() {
		delete(s.byID, id)
		return true, true
	}
	return true, false
}

// removeContext withdraws context from every set it belongs to and returns
// the ids whose sets became empty, in sorted order.
func (s *interestSets) removeContext(context resource.ContextHandle) []resource.ID {
	ids, ok := s.byContext[context]
	if !ok {
		return nil
	}
	var emptied []resource.ID
	for _, id := range ids.SortedValues() {
		if _, gone := s.remove(context, resource.ID(id)); gone {
			emptied = append(emptied, resource.ID(id))
		}
	}
	return emptied
}

// take removes the set for id and returns its members, sorted.
func (s *interestSets) take(id resource.ID) ([]resource.ContextHandle, bool) {
	in, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)

	members := in.contexts.SortedValues()
	contexts := make([]resource.ContextHandle, len(members))
	for i, member := range members {
		contexts[i] = resource.ContextHandle(member)
		s.unindex(contexts[i], id)
	}
	return contexts, true
}

// members returns the contexts interested in id, sorted.
func (s *interestSets) members(id resource.ID) []resource.ContextHandle {
	in, ok := s.byID[id]
	if !ok {
		return nil
	}
	var contexts []resource.ContextHandle
	for _, member := range in.contexts.SortedValues() {
		contexts = append(contexts, resource.ContextHandle(member))
	}
	return contexts
}

func (s *interestSets) unindex(context resource.ContextHandle, id resource.ID) {
	ids, ok := s.byContext[context]
	if !ok {
		return
	}
	ids.Remove(string(id))
	if ids.IsEmpty() {
		delete(s.byContext, context)
	}
}

func (s *interestSets) resourceCount() int {
	return len(s.byID)
}

func (s *interestSets) contextCount() int {
	return len(s.byContext)
}
