package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeGuests struct {
	idle    int64
	deleted bool
	cutoff  time.Time
}

func (f *fakeGuests) CountIdleBefore(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.idle, nil
}

func (f *fakeGuests) DeleteIdleBefore(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	f.deleted = true
	return f.idle, nil
}

type fakeVectors struct {
	orphans []string
	failAt  int
	calls   int
}

func (f *fakeVectors) ListOrphanIDs(limit int) ([]string, error) {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, errors.New("db gone")
	}
	if len(f.orphans) < limit {
		limit = len(f.orphans)
	}
	return append([]string(nil), f.orphans[:limit]...), nil
}

func (f *fakeVectors) DeleteByIDs(ids []string) (int64, error) {
	f.orphans = f.orphans[len(ids):]
	return int64(len(ids)), nil
}

func TestPurgeIdleGuests(t *testing.T) {
	repo := &fakeGuests{idle: 4}

	assert.Equal(t, int64(4), purgeIdleGuests(repo, 30, true))
	assert.False(t, repo.deleted)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -30), repo.cutoff, time.Minute)

	assert.Equal(t, int64(4), purgeIdleGuests(repo, 0, false))
	assert.True(t, repo.deleted)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -1), repo.cutoff, time.Minute)
}

func TestPurgeOrphanVectors(t *testing.T) {
	repo := &fakeVectors{orphans: []string{"a", "b", "c", "d", "e"}}

	assert.Equal(t, int64(2), purgeOrphanVectors(repo, 2, true))
	assert.Len(t, repo.orphans, 5)

	assert.Equal(t, int64(5), purgeOrphanVectors(repo, 2, false))
	assert.Empty(t, repo.orphans)
}

func TestPurgeOrphanVectors_ListError(t *testing.T) {
	repo := &fakeVectors{orphans: []string{"a", "b", "c"}, failAt: 2}

	assert.Equal(t, int64(2), purgeOrphanVectors(repo, 2, false))
	assert.Equal(t, []string{"c"}, repo.orphans)
}
