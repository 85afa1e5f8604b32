// Package appstate maintains a live snapshot of the collections a signed-in
// principal sees. The snapshot is never patched in place: any change signal
// triggers a refetch of every collection, and the whole snapshot is swapped
// at once.
package appstate

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"taskhub/api/internal/realtime"
	"taskhub/api/internal/store"
)

// Snapshot is one consistent view of the principal's data. All collections
// are replaced together.
type Snapshot struct {
	Tasks         []store.Task
	Comments      []store.Comment
	Notifications []store.Notification
	Profiles      []store.Profile
}

// Loader fetches the collections backing a snapshot.
type Loader interface {
	ListTasks(ctx context.Context) ([]store.Task, error)
	ListComments(ctx context.Context) ([]store.Comment, error)
	ListNotificationsFor(ctx context.Context, userID string) ([]store.Notification, error)
	ListProfiles(ctx context.Context) ([]store.Profile, error)
}

type changeSource interface {
	Subscribe(ctx context.Context, topics ...string) (*realtime.Subscription, error)
}

// Store holds the snapshot for one principal.
type Store struct {
	loader Loader
	userID string

	gen atomic.Uint64

	mu         sync.Mutex
	appliedGen uint64
	snapshot   Snapshot

	sub     *realtime.Subscription
	closed  chan struct{}
	done    chan struct{}
	updates chan struct{}
}

func New(loader Loader, userID string) *Store {
	return &Store{
		loader:  loader,
		userID:  userID,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
		updates: make(chan struct{}, 1),
	}
}

// Updates signals after a refresh swaps the snapshot in. The channel is
// level-triggered with a buffer of one: coalesced swaps yield one signal,
// and a reader that calls Snapshot after receiving sees the latest view.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

// Snapshot returns the current view. The slices are shared; callers must not
// mutate them.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Refresh refetches every collection and swaps the snapshot. Concurrent
// refreshes are safe: each takes a generation number when it starts, and a
// finished refresh is discarded if a later-started one already applied.
// Refreshing with no underlying change is a no-op apart from the fetch.
func (s *Store) Refresh(ctx context.Context) error {
	gen := s.gen.Add(1)

	tasks, err := s.loader.ListTasks(ctx)
	if err != nil {
		return err
	}
	comments, err := s.loader.ListComments(ctx)
	if err != nil {
		return err
	}
	notifications, err := s.loader.ListNotificationsFor(ctx, s.userID)
	if err != nil {
		return err
	}
	profiles, err := s.loader.ListProfiles(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen <= s.appliedGen {
		// A refresh that started after this one already applied.
		return nil
	}
	s.appliedGen = gen
	s.snapshot = Snapshot{
		Tasks:         tasks,
		Comments:      comments,
		Notifications: notifications,
		Profiles:      profiles,
	}
	select {
	case s.updates <- struct{}{}:
	default:
	}
	return nil
}

// Watch subscribes to the change bus and refreshes on every signal until
// Close is called. The event payload is never inspected; each signal means
// "refetch everything".
func (s *Store) Watch(ctx context.Context, bus changeSource) error {
	sub, err := bus.Subscribe(ctx, realtime.TopicTasks, realtime.TopicComments, realtime.TopicNotifications, realtime.TopicProfiles)
	if err != nil {
		return err
	}
	s.sub = sub

	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.closed:
				return
			case _, ok := <-sub.C:
				if !ok {
					return
				}
				// Drain bursts so n signals cost one refetch, not n.
				for {
					select {
					case <-sub.C:
						continue
					default:
					}
					break
				}
				if err := s.Refresh(ctx); err != nil {
					log.Printf("appstate refresh: %v", err)
				}
			}
		}
	}()
	return nil
}

// Close stops watching and clears the snapshot, mirroring sign-out.
func (s *Store) Close() {
	select {
	case <-s.closed:
		return
	default:
	}
	close(s.closed)
	if s.sub != nil {
		_ = s.sub.Close()
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.appliedGen = s.gen.Add(1)
	s.snapshot = Snapshot{}
}
