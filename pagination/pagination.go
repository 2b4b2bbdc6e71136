// Package pagination 定义列表接口的分页请求与结果结构.
package pagination

const maxPageSize = 100

// Page 分页请求参数，页码从 1 开始。
type Page struct {
	PageNum  int `json:"page_num"  form:"page_num"`
	PageSize int `json:"page_size" form:"page_size"`
}

// Validate 修正非法参数并填充默认值。
func (p *Page) Validate() {
	if p.PageNum <= 0 {
		p.PageNum = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 10
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
}

func (p *Page) Offset() int {
	return (p.PageNum - 1) * p.PageSize
}

func (p *Page) Limit() int {
	return p.PageSize
}

// PageResult 分页查询结果。
type PageResult[T any] struct {
	Total    int64 `json:"total"`
	PageNum  int   `json:"page_num"`
	PageSize int   `json:"page_size"`
	Data     []T   `json:"data"`
}

// NewPageResult 创建分页结果，data 为 nil 时输出空数组。
func NewPageResult[T any](total int64, page Page, data []T) *PageResult[T] {
	if data == nil {
		data = []T{}
	}
	return &PageResult[T]{
		Total:    total,
		PageNum:  page.PageNum,
		PageSize: page.PageSize,
		Data:     data,
	}
}

// TotalPages 计算总页数。
func (r *PageResult[T]) TotalPages() int {
	if r.PageSize == 0 {
		return 0
	}
	return int((r.Total + int64(r.PageSize) - 1) / int64(r.PageSize))
}

// HasNext 检查是否存在下一页。
func (r *PageResult[T]) HasNext() bool {
	return r.PageNum < r.TotalPages()
}
