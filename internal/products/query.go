package products

import (
	"sort"
	"strings"
	"time"
)

// Dashboard status buckets.
const (
	StatusAll      = "all"
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusExpired  = "expired"
)

// Sort keys accepted by the admin listing.
const (
	SortDateDesc  = "date-desc"
	SortDateAsc   = "date-asc"
	SortTitleAsc  = "title-asc"
	SortTitleDesc = "title-desc"
	SortPriceAsc  = "price-asc"
	SortPriceDesc = "price-desc"
)

// DefaultPageSize is the admin listing page length.
const DefaultPageSize = 10

// Query narrows, orders and pages a product list for the admin dashboard.
type Query struct {
	Search   string
	Status   string
	Sort     string
	Page     int
	PageSize int
}

// Page is one page of query results.
type Page struct {
	Items      []Product `json:"items"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	Total      int       `json:"total"`
	TotalPages int       `json:"totalPages"`
}

// Apply runs q over list as of now. Pages are 1-based; an out-of-range page
// yields an empty item list with the totals still filled in.
func (q Query) Apply(list []Product, now time.Time) Page {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	status := q.Status
	if status == "" {
		status = StatusAll
	}

	matched := make([]Product, 0, len(list))
	for _, p := range list {
		if search != "" && !strings.Contains(strings.ToLower(p.Title), search) && !strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		if status != StatusAll && p.Status(now) != status {
			continue
		}
		matched = append(matched, p)
	}

	sort.SliceStable(matched, less(matched, q.Sort))

	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	total := len(matched)
	pages := (total + size - 1) / size

	from := min((page-1)*size, total)
	to := min(from+size, total)
	return Page{
		Items:      matched[from:to],
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: pages,
	}
}

func less(ps []Product, key string) func(i, j int) bool {
	switch key {
	case SortDateAsc:
		return func(i, j int) bool { return ps[i].Date.Before(ps[j].Date) }
	case SortTitleAsc:
		return func(i, j int) bool { return strings.ToLower(ps[i].Title) < strings.ToLower(ps[j].Title) }
	case SortTitleDesc:
		return func(i, j int) bool { return strings.ToLower(ps[i].Title) > strings.ToLower(ps[j].Title) }
	case SortPriceAsc:
		return func(i, j int) bool { return ps[i].PriceUSD.LessThan(ps[j].PriceUSD.Decimal) }
	case SortPriceDesc:
		return func(i, j int) bool { return ps[i].PriceUSD.GreaterThan(ps[j].PriceUSD.Decimal) }
	default:
		return func(i, j int) bool { return ps[i].Date.After(ps[j].Date) }
	}
}
