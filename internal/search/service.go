package search

import (
	"context"
	"log"

	"taskhub/api/internal/store"
)

// TaskSearcher is the Postgres fallback used when Meilisearch is down.
type TaskSearcher interface {
	SearchTasksLike(ctx context.Context, query, status, priority string, limit int) ([]store.Task, error)
	ListTasks(ctx context.Context) ([]store.Task, error)
}

// Service is the facade that tries Meilisearch first and falls back to
// Postgres ILIKE matching.
type Service struct {
	meili    *Meili
	fallback TaskSearcher
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback TaskSearcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise queries Postgres directly.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	tasks, err := s.fallback.SearchTasksLike(ctx, q.Text, q.FilterStatus, q.FilterPriority, q.Limit)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	results := make([]Result, 0, len(tasks))
	for _, task := range tasks {
		results = append(results, Result{
			ID:         task.ID,
			Title:      task.Title,
			Snippet:    snippet(task.Description),
			Status:     task.Status,
			Priority:   task.Priority,
			AssignedTo: task.AssignedTo,
		})
	}
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// IndexTask pushes a task into Meilisearch (fire-and-forget).
func (s *Service) IndexTask(task store.Task) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := toRecord(task)
	go func() {
		if err := s.meili.IndexTask(record); err != nil {
			log.Printf("search: index task %s: %v", record.ID, err)
		}
	}()
}

// DeleteTask removes a task from Meilisearch (fire-and-forget).
func (s *Service) DeleteTask(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			log.Printf("search: delete task %s: %v", id, err)
		}
	}()
}

// ReindexAll reads every task from Postgres and pushes it to Meilisearch.
// Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	tasks, err := s.fallback.ListTasks(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	records := make([]TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, toRecord(task))
	}
	if err := s.meili.IndexTasks(records); err != nil {
		log.Printf("search: reindex tasks: %v", err)
	}
}

func toRecord(task store.Task) TaskRecord {
	return TaskRecord{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		Status:      task.Status,
		Priority:    task.Priority,
		AssignedTo:  task.AssignedTo,
	}
}

func snippet(description string) string {
	const max = 160
	if len(description) <= max {
		return description
	}
	return description[:max] + "…"
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
