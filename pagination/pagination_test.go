package pagination

import "testing"

func TestPageValidate(t *testing.T) {
	cases := []struct {
		in        Page
		num, size int
		offset    int
	}{
		{Page{}, 1, 10, 0},
		{Page{PageNum: 3, PageSize: 20}, 3, 20, 40},
		{Page{PageNum: -1, PageSize: 1000}, 1, 100, 0},
	}
	for _, c := range cases {
		p := c.in
		p.Validate()
		if p.PageNum != c.num || p.PageSize != c.size || p.Offset() != c.offset {
			t.Errorf("Validate(%+v) = %+v offset %d", c.in, p, p.Offset())
		}
	}
}

func TestPageResult(t *testing.T) {
	r := NewPageResult[int](21, Page{PageNum: 2, PageSize: 10}, nil)
	if r.TotalPages() != 3 {
		t.Errorf("expected 3 pages, got %d", r.TotalPages())
	}
	if !r.HasNext() {
		t.Error("expected next page")
	}
	if r.Data == nil {
		t.Error("expected empty slice, got nil")
	}
}
