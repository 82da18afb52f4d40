package contacts

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Contact is a message submitted through the public contact form.
type Contact struct {
	ID        string `dynamodbav:"id" json:"id"` // PK
	Name      string `dynamodbav:"name" json:"name"`
	Email     string `dynamodbav:"email" json:"email"`
	Category  string `dynamodbav:"category" json:"category"`
	Message   string `dynamodbav:"message" json:"message"`
	Timestamp int64  `dynamodbav:"timestamp" json:"timestamp"` // unix millis
	IsRead    bool   `dynamodbav:"is_read" json:"isRead"`
}

var ErrNotFound = errors.New("contact not found")

const DefaultPageSize = 20

// Query filters the admin inbox. Search matches name, email and message.
type Query struct {
	Search   string
	Unread   bool
	Page     int
	PageSize int
}

type Page struct {
	Items      []Contact `json:"items"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	Total      int       `json:"total"`
	TotalPages int       `json:"totalPages"`
}

// Apply returns the requested page of list, newest first.
func (q Query) Apply(list []Contact) Page {
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]Contact, 0, len(list))
	for _, c := range list {
		if q.Unread && c.IsRead {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(c.Name), needle) &&
			!strings.Contains(strings.ToLower(c.Email), needle) &&
			!strings.Contains(strings.ToLower(c.Message), needle) {
			continue
		}
		matched = append(matched, c)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Timestamp > matched[j].Timestamp })

	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	page := max(q.Page, 1)
	total := len(matched)
	from := min((page-1)*size, total)
	to := min(from+size, total)
	return Page{
		Items:      matched[from:to],
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}
}

// Received returns the submission time.
func (c Contact) Received() time.Time { return time.UnixMilli(c.Timestamp) }
