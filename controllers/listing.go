package controllers

import (
	"net/url"
	"strconv"
	"strings"

	"lending_portal/backend"

	"github.com/gin-gonic/gin"
)

const pageSize = 10

// Page 列表页的一页
type Page[T any] struct {
	Rows  []T
	Page  int
	Pages int
	Total int
	query url.Values
}

func (p Page[T]) HasPrev() bool { return p.Page > 1 }
func (p Page[T]) HasNext() bool { return p.Page < p.Pages }

// Link 翻页链接，保留其余查询条件
func (p Page[T]) Link(page int) string {
	q := url.Values{}
	for k, v := range p.query {
		q[k] = v
	}
	q.Set("page", strconv.Itoa(page))
	return "?" + q.Encode()
}

// pageOf 按请求里的 page 参数取一页
func pageOf[T any](c *gin.Context, rows []T) Page[T] {
	p := paginate(rows, pageParam(c), pageSize)
	p.query = c.Request.URL.Query()
	return p
}

// paginate 页码越界时夹到合法范围
func paginate[T any](rows []T, page, size int) Page[T] {
	if size <= 0 {
		size = pageSize
	}
	pages := (len(rows) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	lo := (page - 1) * size
	hi := min(lo+size, len(rows))
	return Page[T]{Rows: rows[lo:hi], Page: page, Pages: pages, Total: len(rows)}
}

func filter[T any](rows []T, keep func(T) bool) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func pageParam(c *gin.Context) int {
	p, _ := strconv.Atoi(c.Query("page"))
	return p
}

// ItemQuery 物品列表的搜索条件
type ItemQuery struct {
	Q            string `form:"q"`
	CategoryID   int64  `form:"category"`
	Availability string `form:"availability"` // "", "available", "unavailable"
}

func (q ItemQuery) Match(it backend.Item) bool {
	if q.Q != "" && !containsFold(it.Name, strings.TrimSpace(q.Q)) {
		return false
	}
	if q.CategoryID != 0 && (it.CategoryID == nil || *it.CategoryID != q.CategoryID) {
		return false
	}
	switch q.Availability {
	case "available":
		return it.IsAvailable
	case "unavailable":
		return !it.IsAvailable
	}
	return true
}

// matchUser 名字、邮箱、年级任一包含关键字
func matchUser(q string) func(backend.User) bool {
	q = strings.TrimSpace(q)
	return func(u backend.User) bool {
		return q == "" || containsFold(u.Name, q) || containsFold(u.Email, q) || containsFold(string(u.Grade), q)
	}
}

func matchCategory(q string) func(backend.Category) bool {
	q = strings.TrimSpace(q)
	return func(cat backend.Category) bool { return q == "" || containsFold(cat.Name, q) }
}

// withCategoryNames 列表接口没带分类时按 category_id 补上
func withCategoryNames(items []backend.Item, cats []backend.Category) []backend.Item {
	byID := make(map[int64]*backend.Category, len(cats))
	for i := range cats {
		byID[cats[i].ID] = &cats[i]
	}
	for i := range items {
		if items[i].Category == nil && items[i].CategoryID != nil {
			items[i].Category = byID[*items[i].CategoryID]
		}
	}
	return items
}
