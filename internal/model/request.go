package model

// PaginationRequest defines pagination parameters.
type PaginationRequest struct {
	Page     int `json:"page" form:"page"`
	PageSize int `json:"page_size" form:"page_size"`
}

// DefaultPagination applies default pagination values.
func (p *PaginationRequest) DefaultPagination() {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 || p.PageSize > 100 {
		p.PageSize = 20
	}
}

// Offset returns the offset for database queries.
func (p *PaginationRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// TransactionFilter narrows admin listings of ledger transactions.
type TransactionFilter struct {
	IdentityKey string          `form:"identity_key"`
	Kind        TransactionKind `form:"kind"`
	Reference   string          `form:"reference"`
	PaginationRequest
}
