package aggregator

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"failedjobs/internal/models"
	"failedjobs/internal/registry"
)

// Query carries the filter, search, sort and pagination parameters of one
// read. Zero values mean "no restriction".
type Query struct {
	Project     string
	Connection  string
	Queue       string
	Job         string
	FailedAfter time.Time
	Search      string
	SortColumn  string
	SortDesc    bool
	Page        int
	PerPage     int
}

// Page is one page of aggregated records.
type Page struct {
	Records    []models.FailedJobRecord `json:"records"`
	Total      int                      `json:"total"`
	Page       int                      `json:"page"`
	PerPage    int                      `json:"per_page"`
	TotalPages int                      `json:"total_pages"`
}

// Options lists the distinct filter values present in the aggregate.
type Options struct {
	Projects    map[string]string `json:"projects"`
	Connections []string          `json:"connections"`
	Queues      []string          `json:"queues"`
	Jobs        []string          `json:"jobs"`
}

// Aggregator fans a read out across every registered project's failed jobs
// table. Construct one per request: the full result set is cached on the
// instance and discarded with it.
type Aggregator struct {
	registry *registry.Registry
	logger   *zap.Logger

	records []models.FailedJobRecord
	loaded  bool
}

func New(reg *registry.Registry, logger *zap.Logger) *Aggregator {
	return &Aggregator{registry: reg, logger: logger}
}

// Records returns the merged failed jobs of all projects. A project whose
// data source cannot be read contributes zero records instead of aborting
// the whole aggregation.
func (a *Aggregator) Records(ctx context.Context) []models.FailedJobRecord {
	if a.loaded {
		return a.records
	}

	var records []models.FailedJobRecord
	for _, project := range a.registry.All() {
		rows, err := a.fetch(ctx, project)
		if err != nil {
			a.logger.Warn("Skipping unreachable project",
				zap.String("project", project.Key),
				zap.Error(err))
			continue
		}
		for _, row := range rows {
			records = append(records, models.FailedJobRecord{
				Key:              models.RecordKey(project.Key, row.UUID, row.ID),
				ProjectKey:       project.Key,
				ProjectName:      project.Name,
				UsesRedisRuntime: project.UsesRedisRuntime,
				ID:               row.ID,
				UUID:             row.UUID,
				Connection:       row.Connection,
				Queue:            row.Queue,
				Payload:          row.Payload,
				JobName:          models.JobDisplayName(row.Payload),
				Exception:        row.Exception,
				FailedAt:         row.FailedAt,
			})
		}
	}

	a.records = records
	a.loaded = true
	return a.records
}

func (a *Aggregator) fetch(ctx context.Context, project registry.Project) ([]models.FailedJobRow, error) {
	db, err := a.registry.DB(project.Key)
	if err != nil {
		return nil, err
	}
	var rows []models.FailedJobRow
	if err := db.WithContext(ctx).Table(project.FailedJobsTable).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ClearCache drops the cached result set so the next read refetches.
func (a *Aggregator) ClearCache() {
	a.records = nil
	a.loaded = false
}

// Resolve returns the records matching the given composite keys, in record
// order.
func (a *Aggregator) Resolve(ctx context.Context, keys []string) []models.FailedJobRecord {
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	var out []models.FailedJobRecord
	for _, record := range a.Records(ctx) {
		if wanted[record.Key] {
			out = append(out, record)
		}
	}
	return out
}

// Paginate applies filters, search and sort, then returns the requested
// page.
func (a *Aggregator) Paginate(ctx context.Context, q Query) Page {
	records := applyFilters(a.Records(ctx), q)
	records = applySearch(records, q.Search)
	applySort(records, q.SortColumn, q.SortDesc)

	total := len(records)
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	totalPages := total / perPage
	if total%perPage != 0 {
		totalPages++
	}
	if totalPages == 0 {
		totalPages = 1
	}

	return Page{
		Records:    records[start:end],
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}
}

// FilterOptions returns the distinct filterable values in the aggregate.
func (a *Aggregator) FilterOptions(ctx context.Context) Options {
	records := a.Records(ctx)

	connections := make(map[string]bool)
	queues := make(map[string]bool)
	jobs := make(map[string]bool)
	for _, r := range records {
		if r.Connection != "" {
			connections[r.Connection] = true
		}
		if r.Queue != "" {
			queues[r.Queue] = true
		}
		if r.JobName != "" {
			jobs[r.JobName] = true
		}
	}

	return Options{
		Projects:    a.registry.Options(),
		Connections: sortedKeys(connections),
		Queues:      sortedKeys(queues),
		Jobs:        sortedKeys(jobs),
	}
}

func applyFilters(records []models.FailedJobRecord, q Query) []models.FailedJobRecord {
	out := make([]models.FailedJobRecord, 0, len(records))
	for _, r := range records {
		if q.Project != "" && r.ProjectKey != q.Project {
			continue
		}
		if q.Connection != "" && r.Connection != q.Connection {
			continue
		}
		if q.Queue != "" && r.Queue != q.Queue {
			continue
		}
		if q.Job != "" && r.JobName != q.Job {
			continue
		}
		if !q.FailedAfter.IsZero() {
			if r.FailedAt == nil || r.FailedAt.Before(q.FailedAfter) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func applySearch(records []models.FailedJobRecord, search string) []models.FailedJobRecord {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return records
	}

	out := make([]models.FailedJobRecord, 0, len(records))
	for _, r := range records {
		haystack := []string{
			strconv.FormatInt(r.ID, 10),
			r.UUID,
			r.Connection,
			r.Queue,
			r.JobName,
			r.Exception,
			r.ProjectName,
		}
		for _, value := range haystack {
			if value != "" && strings.Contains(strings.ToLower(value), search) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func applySort(records []models.FailedJobRecord, column string, desc bool) {
	if column == "" {
		// Default: most recent failures first.
		column = "failed_at"
		desc = true
	}

	less := func(i, j int) bool { return records[i].ID < records[j].ID }
	switch column {
	case "id":
		// keep default
	case "uuid":
		less = func(i, j int) bool { return records[i].UUID < records[j].UUID }
	case "connection":
		less = func(i, j int) bool { return records[i].Connection < records[j].Connection }
	case "queue":
		less = func(i, j int) bool { return records[i].Queue < records[j].Queue }
	case "job_name":
		less = func(i, j int) bool { return records[i].JobName < records[j].JobName }
	case "project_name":
		less = func(i, j int) bool { return records[i].ProjectName < records[j].ProjectName }
	case "failed_at":
		less = func(i, j int) bool {
			ti, tj := records[i].FailedAt, records[j].FailedAt
			if ti == nil {
				return tj != nil
			}
			if tj == nil {
				return false
			}
			return ti.Before(*tj)
		}
	}

	if desc {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(records, less)
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
