package service

// Параметры постраничного вывода.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Page — страница результатов списка.
type Page[T any] struct {
	Items   []T
	Page    int
	PerPage int
	Total   int
	Pages   int
}

// Next — номер следующей страницы или nil на последней.
func (p *Page[T]) Next() *int {
	if p.Page >= p.Pages {
		return nil
	}
	n := p.Page + 1
	return &n
}

// Prev — номер предыдущей страницы или nil на первой.
func (p *Page[T]) Prev() *int {
	if p.Page <= 1 {
		return nil
	}
	n := p.Page - 1
	return &n
}

// normalizePage проверяет параметры; 0 — значение по умолчанию.
// per_page больше MaxPerPage ограничивается.
func normalizePage(page, perPage int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if perPage == 0 {
		perPage = DefaultPerPage
	}
	if page < 1 {
		return 0, 0, validationError("page должен быть положительным")
	}
	if perPage < 1 {
		return 0, 0, validationError("per_page должен быть положительным")
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage, nil
}

// newPage собирает страницу по общему числу записей.
func newPage[T any](items []T, page, perPage, total int) *Page[T] {
	pages := (total + perPage - 1) / perPage
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, Page: page, PerPage: perPage, Total: total, Pages: pages}
}
